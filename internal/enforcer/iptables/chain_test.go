package iptables

import (
	"fmt"
	"net/netip"
	"strings"
	"testing"

	"netsparrow/internal/enforcer/table"
)

// fakeRules 按 iptables -S 的格式保存规则
type fakeRules struct {
	lines []string
}

func (f *fakeRules) List(_, chain string) ([]string, error) {
	return append([]string{"-N " + chain}, f.lines...), nil
}

func (f *fakeRules) AppendUnique(_, chain string, rulespec ...string) error {
	line := fmt.Sprintf("-A %s %s", chain, strings.Join(rulespec, " "))
	for _, l := range f.lines {
		if l == line {
			return nil
		}
	}
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeRules) DeleteIfExists(_, chain string, rulespec ...string) error {
	line := fmt.Sprintf("-A %s %s", chain, strings.Join(rulespec, " "))
	out := f.lines[:0]
	for _, l := range f.lines {
		if l != line {
			out = append(out, l)
		}
	}
	f.lines = out
	return nil
}

func TestParseRule(t *testing.T) {
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"-A NETSPARROW -s 1.2.3.4/32 -j DROP", "1.2.3.4", true},
		{"-A NETSPARROW -d 5.6.7.8/32 -j DROP", "5.6.7.8", true},
		{"-A NETSPARROW -s 10.0.0.0/8 -j DROP", "", false},
		{"-N NETSPARROW", "", false},
	}
	for _, tc := range cases {
		k, ok := parseRule(tc.line)
		if ok != tc.ok {
			t.Errorf("%q: ok=%v", tc.line, ok)
			continue
		}
		if ok && netip.AddrFrom4(k).String() != tc.want {
			t.Errorf("%q: got %s", tc.line, netip.AddrFrom4(k))
		}
	}
}

func TestChain_SyncWritesSourceAndDestRules(t *testing.T) {
	r := &fakeRules{}
	c := NewChain(r, "NETSPARROW")

	addrs := []netip.Addr{netip.MustParseAddr("1.2.3.4"), netip.MustParseAddr("5.6.7.8")}
	if _, err := table.Sync(c, addrs, 0); err != nil {
		t.Fatal(err)
	}
	if len(r.lines) != 4 {
		t.Fatalf("rules=%v", r.lines)
	}

	st, err := table.Sync(c, addrs[1:], 0)
	if err != nil {
		t.Fatal(err)
	}
	if st.Removed != 1 || st.Kept != 1 {
		t.Fatalf("stats=%+v", st)
	}
	want := []string{
		"-A NETSPARROW -s 5.6.7.8/32 -j DROP",
		"-A NETSPARROW -d 5.6.7.8/32 -j DROP",
	}
	if fmt.Sprint(r.lines) != fmt.Sprint(want) {
		t.Fatalf("rules=%v", r.lines)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
