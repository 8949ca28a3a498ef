package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		chunkSize int64
		offset    int64
		length    int64
		want      []Window
	}{
		{"empty_range", 4, 0, 0, nil},
		{"negative_offset", 4, -1, 4, nil},
		{"zero_chunk_size", 0, 0, 4, nil},

		{"single_chunk_exact", 4, 0, 4, []Window{{0, 0, 4}}},
		{"single_chunk_partial", 4, 1, 2, []Window{{0, 1, 2}}},
		{"single_byte", 4, 3, 1, []Window{{0, 3, 1}}},

		{"two_chunks_aligned", 4, 0, 8, []Window{{0, 0, 4}, {1, 0, 4}}},
		{"straddle_boundary", 4, 2, 4, []Window{{0, 2, 2}, {1, 0, 2}}},
		{"straddle_near_end", 4, 2, 5, []Window{{0, 2, 2}, {1, 0, 3}}},

		{"starts_in_later_chunk", 4, 9, 2, []Window{{2, 1, 2}}},
		{"three_chunks", 4, 3, 7, []Window{{0, 3, 1}, {1, 0, 4}, {2, 0, 2}}},

		{"large_chunk_small_read", 1 << 20, 100, 50, []Window{{0, 100, 50}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Windows(tt.chunkSize, tt.offset, tt.length)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Windows must tile the requested range exactly: consecutive windows abut at
// chunk boundaries and the total covered length equals the request.
func TestWindowsExactCover(t *testing.T) {
	t.Parallel()

	chunkSizes := []int64{1, 3, 4, 16, 4096}
	offsets := []int64{0, 1, 3, 4, 5, 100, 4095, 4096, 10000}
	lengths := []int64{1, 2, 4, 7, 4096, 9000}

	for _, cs := range chunkSizes {
		for _, off := range offsets {
			for _, l := range lengths {
				ws := Windows(cs, off, l)
				require.NotEmpty(t, ws, "cs=%d off=%d len=%d", cs, off, l)

				var covered int64
				pos := off
				for i, w := range ws {
					abs := w.Seq*cs + w.Off
					require.Equal(t, pos, abs,
						"cs=%d off=%d len=%d: window %d starts at %d, want %d", cs, off, l, i, abs, pos)
					require.Greater(t, w.Len, int64(0))
					require.LessOrEqual(t, w.End(), cs, "window exceeds chunk")
					pos += w.Len
					covered += w.Len
				}
				require.Equal(t, l, covered, "cs=%d off=%d len=%d", cs, off, l)
			}
		}
	}
}

func TestCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		chunkSize int64
		size      int64
		want      int64
	}{
		{"empty", 4, 0, 0},
		{"one_byte", 4, 1, 1},
		{"exact_one", 4, 4, 1},
		{"one_over", 4, 5, 2},
		{"exact_two", 4, 8, 2},
		{"large", 1 << 20, 5<<20 + 1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Count(tt.chunkSize, tt.size))
		})
	}
}

func TestLastLen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		chunkSize int64
		size      int64
		want      int64
	}{
		{"empty", 4, 0, 0},
		{"partial", 4, 3, 3},
		{"full", 4, 4, 4},
		{"one_over", 4, 5, 1},
		{"two_full", 4, 8, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LastLen(tt.chunkSize, tt.size))
		})
	}
}

func TestFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		chunkSize int64
		count     int64
		lastLen   int64
		want      int64
	}{
		{"no_chunks", 4, 0, 0, 0},
		{"one_partial", 4, 1, 3, 3},
		{"one_full", 4, 1, 4, 4},
		{"two_chunks", 4, 2, 4, 8},
		{"two_partial", 4, 2, 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FileSize(tt.chunkSize, tt.count, tt.lastLen))
		})
	}
}

// Count/LastLen and FileSize must invert each other for every size.
func TestFileSizeRoundtrip(t *testing.T) {
	t.Parallel()

	for _, cs := range []int64{1, 3, 4, 4096} {
		for size := int64(0); size <= 3*cs+2; size++ {
			got := FileSize(cs, Count(cs, size), LastLen(cs, size))
			require.Equal(t, size, got, "cs=%d size=%d", cs, size)
		}
	}
}
