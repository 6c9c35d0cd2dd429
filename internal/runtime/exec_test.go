package runtime

import (
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{
			name:      "override keeps position",
			base:      []string{"PATH=/usr/bin", "HOME=/root", "TERM=xterm"},
			overrides: []string{"HOME=/build"},
			want:      []string{"PATH=/usr/bin", "HOME=/build", "TERM=xterm"},
		},
		{
			name:      "new keys follow in order",
			base:      []string{"A=1"},
			overrides: []string{"C=3", "B=2"},
			want:      []string{"A=1", "C=3", "B=2"},
		},
		{
			name:      "empty base",
			base:      nil,
			overrides: []string{"A=1"},
			want:      []string{"A=1"},
		},
		{
			name:      "empty overrides",
			base:      []string{"A=1"},
			overrides: nil,
			want:      []string{"A=1"},
		},
		{
			name: "both empty",
			want: []string{},
		},
		{
			name:      "value with equals sign",
			base:      []string{"CMD=foo=bar"},
			overrides: []string{"CMD=a=b"},
			want:      []string{"CMD=a=b"},
		},
		{
			name:      "last override wins",
			base:      []string{"A=1"},
			overrides: []string{"A=2", "A=3"},
			want:      []string{"A=3"},
		},
		{
			name:      "malformed entries skipped",
			base:      []string{"NOEQUALS", "A=1"},
			overrides: []string{"ALSO_BAD", "B=2"},
			want:      []string{"A=1", "B=2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("mergeEnv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNextExecID(t *testing.T) {
	a := nextExecID()
	b := nextExecID()
	if a == b {
		t.Fatalf("nextExecID returned duplicate: %q", a)
	}
	if !strings.HasPrefix(a, "exec-") || !strings.HasPrefix(b, "exec-") {
		t.Fatalf("nextExecID = %q, %q, want exec-<n>", a, b)
	}
}

func TestEOFReader(t *testing.T) {
	r := &eofReader{r: strings.NewReader("payload"), done: make(chan struct{})}

	select {
	case <-r.Done():
		t.Fatal("done closed before EOF")
	default:
	}

	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "payload" {
		t.Errorf("read %q", b)
	}

	select {
	case <-r.Done():
	default:
		t.Fatal("done not closed after EOF")
	}

	// Reading past EOF again must not panic on a second close.
	if _, err := r.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("err = %v, want EOF", err)
	}
}

func TestEOFReaderNil(t *testing.T) {
	var r *eofReader
	if r.Done() != nil {
		t.Error("nil reader returned a non-nil channel")
	}
}
