package operation

import "testing"

func TestConsistencyLeaderOnly(t *testing.T) {
	cases := []struct {
		level Consistency
		want  bool
	}{
		{Sequential, false},
		{BoundedLinearizable, true},
		{Linearizable, true},
	}
	for _, c := range cases {
		if got := c.level.LeaderOnly(); got != c.want {
			t.Fatalf("%v.LeaderOnly() = %v, want %v", c.level, got, c.want)
		}
	}
}

func TestCommandDefaultsToLinearizable(t *testing.T) {
	cmd := NewCommand("put", []byte("x"))
	if cmd.Consistency() != Linearizable {
		t.Fatalf("command consistency = %v, want linearizable", cmd.Consistency())
	}
	if !cmd.Consistency().LeaderOnly() {
		t.Fatalf("commands must be leader-bound")
	}
}

func TestQueryCarriesLevel(t *testing.T) {
	q := NewQuery("get", nil, Sequential)
	if q.Consistency() != Sequential {
		t.Fatalf("query consistency = %v, want sequential", q.Consistency())
	}
}

func TestOperationVariants(t *testing.T) {
	var ops = []Operation{NewCommand("a", nil), NewQuery("b", nil, Linearizable)}
	for _, op := range ops {
		switch op.(type) {
		case *Command, *Query:
		default:
			t.Fatalf("unexpected variant %T", op)
		}
	}
}
