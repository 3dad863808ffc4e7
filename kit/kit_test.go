package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("resp=%v err=%v", resp, err)
	}
	want := "a_before,b_before,endpoint,b_after,a_after"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	errFail := errors.New("fail")
	ep := Logging(logger, "extract")(func(context.Context, any) (any, error) { return nil, errFail })

	ctx := WithRequestID(WithTransport(context.Background(), "cli"), "req_1")
	if _, err := ep(ctx, nil); !errors.Is(err, errFail) {
		t.Fatalf("err = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"op=extract", "transport=cli", "request_id=req_1", "level=WARN"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" || GetRequestID(ctx) != "" {
		t.Fatal("unexpected defaults")
	}
	ctx = WithTransport(WithRequestID(ctx, "r"), "mcp")
	if GetTransport(ctx) != "mcp" || GetRequestID(ctx) != "r" {
		t.Fatal("values not stored")
	}
}

func TestRequestID(t *testing.T) {
	var got []string
	ep := Chain(RequestID(func() string { return "gen_1" }))(func(ctx context.Context, _ any) (any, error) {
		got = append(got, GetRequestID(ctx))
		return nil, nil
	})
	ep(context.Background(), nil)
	ep(WithRequestID(context.Background(), "upstream"), nil)
	if strings.Join(got, ",") != "gen_1,upstream" {
		t.Fatalf("ids = %v", got)
	}
}
