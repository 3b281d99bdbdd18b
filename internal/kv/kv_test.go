package kv_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"testing"

	"todoline/internal/kv"
)

type memBackend struct {
	data map[string][]byte
	fail bool
}

func newMem() *memBackend { return &memBackend{data: map[string][]byte{}} }

func (m *memBackend) Put(_ context.Context, k string, v []byte) error {
	if m.fail {
		return errors.New("disk full")
	}
	m.data[k] = v
	return nil
}

func (m *memBackend) Get(_ context.Context, k string) ([]byte, error) {
	v, ok := m.data[k]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return v, nil
}

func (m *memBackend) Delete(_ context.Context, k string) error {
	delete(m.data, k)
	return nil
}

func (m *memBackend) ScanPrefix(_ context.Context, p string) ([][]byte, error) {
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out [][]byte
	for _, k := range keys {
		out = append(out, m.data[k])
	}
	return out, nil
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"  Task_ABC  ":         "task_abc",
		"group  one\tTwo":      "group_one_two",
		"Cafe\u0301 List":      "caf\u00e9_list",
		"TASK_1":               "task_1",
		"already_normal_key_x": "already_normal_key_x",
	}
	for in, want := range cases {
		if got := kv.NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAdapterNormalizesOnEveryOperation(t *testing.T) {
	mem := newMem()
	a := kv.New(mem, nil, nil)
	if !a.Available() {
		t.Fatalf("adapter should be available")
	}

	a.Put("  Task_One ", []byte(`{"id":"task_one"}`))
	if _, stored := mem.data["task_one"]; !stored {
		t.Fatalf("key not normalized on put: %v", mem.data)
	}

	v, ok := a.Get("TASK_ONE")
	if !ok || string(v) != `{"id":"task_one"}` {
		t.Fatalf("get = %s, %v", v, ok)
	}

	a.Put("group_x", []byte(`{}`))
	if n := len(a.ScanPrefix("TASK_")); n != 1 {
		t.Fatalf("task scan = %d", n)
	}
	if n := len(a.ScanPrefix("group_")); n != 1 {
		t.Fatalf("group scan = %d", n)
	}

	a.Delete(" task_one")
	if _, ok := a.Get("task_one"); ok {
		t.Fatalf("key survived delete")
	}
}

func TestDegradedAdapterIsSilentNoop(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	a := kv.New(nil, logger, errors.New("open failed"))
	if a.Available() {
		t.Fatalf("degraded adapter reports available")
	}
	if n := strings.Count(buf.String(), "storage unavailable"); n != 1 {
		t.Fatalf("unavailable logged %d times", n)
	}

	a.Put("task_1", []byte(`{}`))
	a.Delete("task_1")
	if _, ok := a.Get("task_1"); ok {
		t.Fatalf("degraded get found a value")
	}
	if got := a.ScanPrefix("task_"); len(got) != 0 {
		t.Fatalf("degraded scan = %q", got)
	}
	if n := strings.Count(buf.String(), "storage"); n != 1 {
		t.Fatalf("degradation logged %d times:\n%s", n, buf.String())
	}
}

func TestBackendErrorsAreLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	mem := newMem()
	mem.fail = true
	a := kv.New(mem, log.New(&buf, "", 0), nil)
	a.Put("task_1", []byte(`{}`))
	if !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("backend error not logged: %q", buf.String())
	}

	buf.Reset()
	if _, ok := a.Get("task_missing"); ok {
		t.Fatalf("missing key found")
	}
	if buf.Len() != 0 {
		t.Fatalf("missing key logged: %q", buf.String())
	}
}
