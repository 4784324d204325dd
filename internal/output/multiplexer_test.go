package output

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	txt := strings.TrimSuffix(s.b.String(), "\n")
	if txt == "" {
		return nil
	}
	return strings.Split(txt, "\n")
}

func TestSplitChunkJoinsIntoOneLine(t *testing.T) {
	var out safeBuffer
	lw := New(&out).Stream("dfx", nil)

	_, _ = lw.Write([]byte("hello wo"))
	assert.Empty(t, out.Lines())
	assert.Equal(t, "hello wo", lw.Pending())

	_, _ = lw.Write([]byte("rld\n"))
	assert.Equal(t, []string{"[dfx] hello world"}, out.Lines())
	assert.Equal(t, "", lw.Pending())
}

func TestMultipleLinesInOneChunk(t *testing.T) {
	var out safeBuffer
	lw := New(&out).Stream("svc", nil)

	n, err := lw.Write([]byte("a\nb\n\nc"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []string{"[svc] a", "[svc] b", "[svc] "}, out.Lines())
	assert.Equal(t, "c", lw.Pending())

	lw.Flush()
	assert.Equal(t, []string{"[svc] a", "[svc] b", "[svc] ", "[svc] c"}, out.Lines())
	lw.Flush()
	assert.Len(t, out.Lines(), 4, "flush of an empty buffer emits nothing")
}

func TestCRLFIsTrimmed(t *testing.T) {
	var out safeBuffer
	lw := New(&out).Stream("win", nil)
	_, _ = lw.Write([]byte("one\r\ntwo\r"))
	_, _ = lw.Write([]byte("\n"))
	assert.Equal(t, []string{"[win] one", "[win] two"}, out.Lines())
}

func TestMirrorReceivesRawBytes(t *testing.T) {
	var out, mirror safeBuffer
	lw := New(&out).Stream("m", &mirror)
	_, _ = lw.Write([]byte("x\ny"))
	assert.Equal(t, "x\ny", mirror.b.String())
}

func TestOnLineHook(t *testing.T) {
	var out safeBuffer
	mux := New(&out)
	counts := map[string]int{}
	mux.OnLine(func(tag string) { counts[tag]++ })
	_, _ = mux.Stream("a", nil).Write([]byte("1\n2\n"))
	_, _ = mux.Stream("b", nil).Write([]byte("3\n"))
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, counts)
}

func TestConcurrentStreamsNeverInterleaveWithinALine(t *testing.T) {
	var out safeBuffer
	mux := New(&out)
	const writers, lines = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			lw := mux.Stream(fmt.Sprintf("p%d", w), nil)
			for i := 0; i < lines; i++ {
				// split every line across two writes
				_, _ = lw.Write([]byte(fmt.Sprintf("line-%d-", i)))
				_, _ = lw.Write([]byte("end\n"))
			}
		}(w)
	}
	wg.Wait()

	got := out.Lines()
	require.Len(t, got, writers*lines)
	for _, l := range got {
		var w, i int
		_, err := fmt.Sscanf(l, "[p%d] line-%d-end", &w, &i)
		require.NoError(t, err, "malformed line %q", l)
	}
}

func TestNilWriterDiscards(t *testing.T) {
	lw := New(nil).Stream("x", nil)
	n, err := lw.Write([]byte("ok\n"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}
