//go:generate go run ./main.go

package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"gavel/models"
)

// 輸出gorm模型對應的資料庫結構，給atlas產生遷移腳本用
func main() {
	stmts, err := gormschema.New("postgres").Load(
		&models.User{},
		&models.Listing{},
		&models.Bid{},
		&models.Order{},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
