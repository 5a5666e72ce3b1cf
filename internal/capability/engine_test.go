package capability

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// fakeSource returns fixed scopes per token kind and counts lookups.
type fakeSource struct {
	scopes map[models.TokenKind][]string
	calls  int
}

func (f *fakeSource) GrantedScopes(_ context.Context, kind models.TokenKind) []string {
	f.calls++
	return f.scopes[kind]
}

type fakeRecorder struct {
	events []models.AuditEvent
}

func (f *fakeRecorder) Record(e models.AuditEvent) {
	f.events = append(f.events, e)
}

func newTestEngine(scopes map[models.TokenKind][]string) (*Engine, *fakeSource, *fakeRecorder) {
	src := &fakeSource{scopes: scopes}
	rec := &fakeRecorder{}
	return NewEngine(NewCatalog(), src, rec), src, rec
}

func TestCheckSetMath(t *testing.T) {
	e, _, _ := newTestEngine(nil)

	d := e.Check([]string{"a", "b", "c"}, []string{"b", "c"})
	if d.Valid {
		t.Error("decision should be invalid with a missing capability")
	}
	if !reflect.DeepEqual(d.Missing, []string{"a"}) {
		t.Errorf("missing = %v, want [a]", d.Missing)
	}

	d = e.Check([]string{"a"}, []string{"a", "extra"})
	if !d.Valid || len(d.Missing) != 0 {
		t.Errorf("extra granted scopes should not invalidate: %+v", d)
	}

	// Empty required is trivially valid
	d = e.Check(nil, nil)
	if !d.Valid {
		t.Error("empty requirement should be valid")
	}
}

func TestCheckForAPIValid(t *testing.T) {
	e, _, _ := newTestEngine(map[models.TokenKind][]string{
		models.KindBot: {"chat:write", "channels:read"},
	})

	d := e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if !d.Valid || !d.Allowed {
		t.Errorf("expected valid allowed decision, got %+v", d)
	}
	if d.Method != "send_message" || d.Kind != models.KindBot {
		t.Errorf("decision not annotated: %+v", d)
	}
}

func TestCheckForAPIMissingScope(t *testing.T) {
	e, _, _ := newTestEngine(map[models.TokenKind][]string{
		models.KindBot: {"channels:read"},
	})

	d := e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if d.Valid || d.Allowed {
		t.Errorf("strict mode should block, got %+v", d)
	}
	if !reflect.DeepEqual(d.Missing, []string{"chat:write"}) {
		t.Errorf("missing = %v, want [chat:write]", d.Missing)
	}
}

func TestCheckForAPIUnknownMethod(t *testing.T) {
	e, _, _ := newTestEngine(nil)

	d := e.CheckForAPI(context.Background(), "no.such.method", models.KindBot)
	if d.Valid || d.Allowed {
		t.Errorf("unknown method under strict policy should be invalid, got %+v", d)
	}

	e.SetLevel(models.EnforceLenient)
	d = e.CheckForAPI(context.Background(), "no.such.method", models.KindBot)
	if !d.Valid || !d.Allowed {
		t.Errorf("unknown method under lenient policy should pass, got %+v", d)
	}
}

func TestLenientAllowsInvalid(t *testing.T) {
	e, _, _ := newTestEngine(map[models.TokenKind][]string{
		models.KindBot: {},
	})
	e.SetLevel(models.EnforceLenient)

	d := e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if d.Valid {
		t.Error("decision should record the missing capability")
	}
	if !d.Allowed {
		t.Error("lenient policy should still allow")
	}
}

func TestDisabledSkipsLookup(t *testing.T) {
	e, src, _ := newTestEngine(nil)
	e.SetLevel(models.EnforceDisabled)

	d := e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if !d.Valid || !d.Allowed {
		t.Errorf("disabled policy should allow everything, got %+v", d)
	}
	if src.calls != 0 {
		t.Error("disabled policy should not resolve granted scopes")
	}
}

func TestDecisionCache(t *testing.T) {
	e, src, _ := newTestEngine(map[models.TokenKind][]string{
		models.KindBot: {"chat:write"},
	})

	e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if src.calls != 1 {
		t.Errorf("second check should hit the cache, got %d lookups", src.calls)
	}

	// Level change invalidates
	e.SetLevel(models.EnforceLenient)
	e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if src.calls != 2 {
		t.Errorf("level change should invalidate cache, got %d lookups", src.calls)
	}

	e.ClearCache()
	e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if src.calls != 3 {
		t.Errorf("ClearCache should force a fresh lookup, got %d lookups", src.calls)
	}
}

func TestAuditCountsOnly(t *testing.T) {
	e, _, rec := newTestEngine(map[models.TokenKind][]string{
		models.KindBot: {"channels:read"},
	})

	e.CheckForAPI(context.Background(), "send_message", models.KindBot)
	if len(rec.events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(rec.events))
	}
	ctx := rec.events[0].Context
	if ctx["granted_count"] != 1 || ctx["missing_count"] != 1 {
		t.Errorf("audit counts wrong: %v", ctx)
	}
	if _, present := ctx["granted"]; present {
		t.Error("audit context must not carry raw scope grants")
	}
}

func TestGuard(t *testing.T) {
	e, _, _ := newTestEngine(map[models.TokenKind][]string{
		models.KindBot: {"chat:write"},
	})

	ran := false
	err := e.Guard(context.Background(), "send_message", models.KindBot, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Guard failed: %v", err)
	}
	if !ran {
		t.Error("operation should have run")
	}

	ran = false
	err = e.Guard(context.Background(), "files.list", models.KindBot, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
	if ran {
		t.Error("blocked operation must not run")
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatal("error should carry the decision")
	}
	if !reflect.DeepEqual(denied.Decision.Missing, []string{"files:read"}) {
		t.Errorf("missing = %v", denied.Decision.Missing)
	}
}
