package command

import "testing"

func TestConstructorsCopyPayloads(t *testing.T) {
	st := ContainerStatus{Open: true, Contents: []string{"a"}}
	c := NewContainerStatusChanged("box", st, WatchingContainer("box"))
	st.Contents[0] = "mutated"
	if c.Container.Contents[0] != "a" {
		t.Fatalf("command shares payload with caller")
	}

	cl := c.Clone()
	cl.Container.Contents[0] = "z"
	if c.Container.Contents[0] != "a" {
		t.Fatalf("clone shares payload with original")
	}
	if c.ID == "" || c.ID != cl.ID {
		t.Fatalf("clone must keep id: %q %q", c.ID, cl.ID)
	}
}

func TestScopeValidate(t *testing.T) {
	cases := []struct {
		s  Scope
		ok bool
	}{
		{AllAgents(), true},
		{WatchingContainer("c1"), true},
		{WatchingContainer(""), false},
		{SpecificAgent("a"), true},
		{SpecificAgent(""), false},
		{Scope{Kind: "NOPE"}, false},
	}
	for _, tc := range cases {
		if err := tc.s.Validate(); (err == nil) != tc.ok {
			t.Fatalf("%v: err=%v want ok=%v", tc.s, err, tc.ok)
		}
	}
}

func TestPrivateAndContainsKind(t *testing.T) {
	p := NewEntityRemoved("x", SpecificAgent("a"))
	if !p.Private() {
		t.Fatalf("specific-agent scope should be private")
	}
	if NewWorldReset().Private() {
		t.Fatalf("world reset is broadcast")
	}
	if !ContainsKind([]Command{p, NewWorldReset()}, WorldReset) {
		t.Fatalf("ContainsKind missed WORLD_RESET")
	}
	if !WorldReset.Valid() || Kind("X").Valid() {
		t.Fatalf("Kind.Valid mismatch")
	}
}
