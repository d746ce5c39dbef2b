package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferReadRecent(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		writes  [][]float32
		count   int
		want    []float32
		wantErr error
	}{
		{
			name:    "empty buffer",
			size:    4,
			count:   1,
			wantErr: ErrInsufficientBuffer,
		},
		{
			name:    "fewer samples than window",
			size:    8,
			writes:  [][]float32{{1, 2, 3}},
			count:   4,
			wantErr: ErrInsufficientBuffer,
		},
		{
			name:    "window larger than buffer",
			size:    4,
			writes:  [][]float32{{1, 2, 3, 4, 5, 6}},
			count:   5,
			wantErr: ErrInsufficientBuffer,
		},
		{
			name:   "exact fill",
			size:   4,
			writes: [][]float32{{1, 2, 3, 4}},
			count:  4,
			want:   []float32{1, 2, 3, 4},
		},
		{
			name:   "wrapped write",
			size:   4,
			writes: [][]float32{{1, 2, 3}, {4, 5, 6}},
			count:  3,
			want:   []float32{4, 5, 6},
		},
		{
			name:   "window spans wrap point",
			size:   5,
			writes: [][]float32{{1, 2, 3, 4}, {5, 6, 7}},
			count:  4,
			want:   []float32{4, 5, 6, 7},
		},
		{
			name:   "single write larger than buffer",
			size:   3,
			writes: [][]float32{{1, 2, 3, 4, 5, 6, 7}},
			count:  3,
			want:   []float32{5, 6, 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewRingBuffer(tt.size)
			for _, w := range tt.writes {
				b.Write(w)
			}

			got, err := b.ReadRecent(tt.count)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRingBufferPositionAndReset(t *testing.T) {
	b := NewRingBuffer(4)
	b.Write([]float32{1, 2, 3})
	assert.Equal(t, 3, b.WritePosition())
	assert.EqualValues(t, 3, b.Written())

	b.Write([]float32{4, 5})
	assert.Equal(t, 1, b.WritePosition())
	assert.EqualValues(t, 5, b.Written())

	b.Reset()
	assert.Equal(t, 0, b.WritePosition())
	assert.EqualValues(t, 0, b.Written())
	_, err := b.ReadRecent(1)
	assert.ErrorIs(t, err, ErrInsufficientBuffer)
}
