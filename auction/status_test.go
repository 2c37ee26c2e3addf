package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		event   Event
		want    Status
		wantErr bool
	}{
		{name: "draft開賣後變成active", from: StatusDraft, event: EventOpen, want: StatusActive},
		{name: "active結標後變成ended", from: StatusActive, event: EventClose, want: StatusEnded},
		{name: "ended結算成功變成settled", from: StatusEnded, event: EventSettle, want: StatusSettled},
		{name: "ended沒有出價變成cancelled", from: StatusEnded, event: EventCancel, want: StatusCancelled},
		{name: "draft不能直接結標", from: StatusDraft, event: EventClose, wantErr: true},
		{name: "active不能直接結算", from: StatusActive, event: EventSettle, wantErr: true},
		{name: "settled是終態", from: StatusSettled, event: EventOpen, wantErr: true},
		{name: "cancelled是終態", from: StatusCancelled, event: EventClose, wantErr: true},
		{name: "settled不能重新結標", from: StatusSettled, event: EventClose, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Next(tt.from, tt.event)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusDraft.Terminal())
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusEnded.Terminal())
	assert.True(t, StatusSettled.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusDraft, StatusActive, StatusEnded, StatusSettled, StatusCancelled} {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("archived").Valid())
}
