package chat

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type mapRegistry map[string]any

func (r mapRegistry) Register(name string, service any) error {
	r[name] = service
	return nil
}

func (r mapRegistry) Resolve(name string) (any, error) {
	service, ok := r[name]
	if !ok {
		return nil, ErrServiceNotFound
	}

	return service, nil
}

func TestResolveLogger(t *testing.T) {
	t.Parallel()

	var registered, fallback bytes.Buffer
	registeredLogger := slog.New(slog.NewTextHandler(&registered, nil))
	fallbackLogger := slog.New(slog.NewTextHandler(&fallback, nil))

	ResolveLogger(mapRegistry{ServiceLogger: registeredLogger}, "answers", fallbackLogger).Info("hello")
	if !strings.Contains(registered.String(), "module=answers") || fallback.Len() != 0 {
		t.Fatalf("registered output = %q, fallback output = %q", registered.String(), fallback.String())
	}

	ResolveLogger(mapRegistry{ServiceLogger: "not a logger"}, "pingpong", fallbackLogger).Info("hello")
	if !strings.Contains(fallback.String(), "module=pingpong") {
		t.Fatalf("fallback output = %q, want module tag", fallback.String())
	}

	if ResolveLogger(mapRegistry{}, "help", nil) == nil {
		t.Fatal("ResolveLogger returned nil without fallback")
	}
}

func TestParseBackpressurePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    BackpressurePolicy
		wantErr bool
	}{
		{raw: "drop_newest", want: BackpressureDropNewest},
		{raw: " DROP_OLDEST ", want: BackpressureDropOldest},
		{raw: "Block", want: BackpressureBlock},
		{raw: "spill", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseBackpressurePolicy(testCase.raw)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidSubscription) {
					t.Fatalf("error = %v, want %v", err, ErrInvalidSubscription)
				}
				return
			}
			if err != nil || got != testCase.want {
				t.Fatalf("ParseBackpressurePolicy(%q) = %q, %v; want %q", testCase.raw, got, err, testCase.want)
			}
		})
	}
}
