package fragment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func chunk(b []byte, size int) [][]byte {
	var out [][]byte
	for i := 0; i < len(b); i += size {
		end := i + size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[i:end])
	}
	if len(out) == 0 {
		out = append(out, b[:0])
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		n    int
		size int
	}{
		{"single-fragment", 1, 300},
		{"two-fragments", 2, 128},
		{"many-small", 50, 20},
		{"exact-cap", 1024, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.n)
			for i := range data {
				data[i] = byte(i)
			}
			pieces := chunk(data, tc.size)
			var r Reassembler
			total := uint8(len(pieces))
			var last Outcome
			for i, p := range pieces {
				last = r.Handle(uint8(i), total, p)
				if i < len(pieces)-1 {
					require.Equal(t, Pending, last, "fragment %d", i)
				}
			}
			require.Equal(t, Complete, last)
			require.Equal(t, data, r.Data())
		})
	}
}

func TestRestartMidFrame(t *testing.T) {
	var r Reassembler
	out := r.Handle(0, 3, []byte("AAA"))
	require.Equal(t, Pending, out)
	out = r.Handle(1, 3, []byte("BBB"))
	require.Equal(t, Pending, out)

	// New frame begins before the previous one finished.
	out = r.Handle(0, 2, []byte("CCC"))
	require.Equal(t, Dropped, out)

	out = r.Handle(1, 2, []byte("DDD"))
	require.Equal(t, Complete, out)
	require.Equal(t, []byte("CCCDDD"), r.Data())
}

func TestRejectsOutOfOrder(t *testing.T) {
	var r Reassembler
	out := r.Handle(0, 3, []byte("AAA"))
	require.Equal(t, Pending, out)

	// Skips part=1, goes straight to part=2: rejected, buffer reset.
	out = r.Handle(2, 3, []byte("CCC"))
	require.Equal(t, Dropped, out)

	// Reassembler is Idle again: a fresh part=0 fragment starts clean.
	out = r.Handle(0, 1, []byte("ZZZ"))
	require.Equal(t, Complete, out)
	require.Equal(t, []byte("ZZZ"), r.Data())
}

func TestMissedFirstFragment(t *testing.T) {
	var r Reassembler
	out := r.Handle(1, 3, []byte("BBB"))
	require.Equal(t, Dropped, out)
}

func TestOverflowDrops(t *testing.T) {
	var r Reassembler
	big := make([]byte, 400)
	out := r.Handle(0, 3, big)
	require.Equal(t, Pending, out)
	out = r.Handle(1, 3, big)
	require.Equal(t, Pending, out)
	// Third fragment would push past 1024 bytes.
	out = r.Handle(2, 3, big)
	require.Equal(t, Dropped, out)
}

func TestMalformedTotalZero(t *testing.T) {
	var r Reassembler
	out := r.Handle(0, 0, []byte("x"))
	require.Equal(t, Dropped, out)
}

func TestFastPathEquivalence(t *testing.T) {
	payload := []byte("hello, node")

	var single Reassembler
	out := single.Handle(0, 1, payload)
	require.Equal(t, Complete, out)
	require.Equal(t, payload, single.Data())

	var split Reassembler
	out = split.Handle(0, 2, payload[:6])
	require.Equal(t, Pending, out)
	out = split.Handle(1, 2, payload[6:])
	require.Equal(t, Complete, out)
	require.Equal(t, payload, split.Data())
}
