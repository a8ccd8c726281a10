package translate

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func TestPostFilterBlanksCJKEchoes(t *testing.T) {
	in := []string{"안녕하세요", "你好", ""}
	out := postFilter(in)
	if out[0] != "안녕하세요" {
		t.Errorf("out[0] = %q, want unchanged Korean", out[0])
	}
	if out[1] != "" {
		t.Errorf("out[1] = %q, want blanked CJK echo", out[1])
	}
	if out[2] != "" {
		t.Errorf("out[2] = %q, want empty to stay empty", out[2])
	}
}

func TestBuildPromptEmbedsPayload(t *testing.T) {
	p, err := buildPrompt([]string{"你好"})
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	if !containsSubstring(p, `["你好"]`) {
		t.Errorf("prompt %q does not embed the JSON payload", p)
	}
}

func containsSubstring(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestManyReturnsTranslationsOnSuccess(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	defer ln.Close()

	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody([]byte(`{"candidates":[{"content":{"parts":[{"text":"[\"안녕\",\"하세요\"]"}]}}]}`))
		},
	}
	go srv.Serve(ln) //nolint:errcheck

	c := New("http://unused", "key", "test-model", 1000)
	c.client = &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := c.Many(ctx, []string{"你好", "再见"}, "req-1")
	if len(out) != 2 || out[0] != "안녕" || out[1] != "하세요" {
		t.Fatalf("Many = %+v, want [안녕 하세요]", out)
	}
}

func TestManyDegradesToEmptyOnFailure(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	defer ln.Close()

	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		},
	}
	go srv.Serve(ln) //nolint:errcheck

	c := New("http://unused", "key", "test-model", 1000)
	c.client = &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := c.Many(ctx, []string{"你好"}, "req-2")
	if len(out) != 0 {
		t.Fatalf("Many = %+v, want empty slice on failure", out)
	}
}

func TestManyEmptyInputReturnsNil(t *testing.T) {
	c := New("http://unused", "key", "test-model", 1000)
	out := c.Many(context.Background(), nil, "req-3")
	if out != nil {
		t.Fatalf("Many(nil) = %+v, want nil", out)
	}
}
