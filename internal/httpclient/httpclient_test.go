package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Timeout != DefaultTimeout {
		t.Fatalf("timeout = %s, want %s", c.Timeout, DefaultTimeout)
	}
	if c != Default() {
		t.Fatal("Default must return the shared client")
	}
}

func TestWithTimeout(t *testing.T) {
	c := WithTimeout(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Fatalf("timeout = %s, want 5s", c.Timeout)
	}
	if c == Default() {
		t.Fatal("WithTimeout must not hand back the shared client")
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport = %T, want *http.Transport", c.Transport)
	}
	if tr == Default().Transport {
		t.Fatal("transport must be a clone, not the shared one")
	}
	if tr.MaxIdleConnsPerHost != MaxIdleConnsPerHost {
		t.Fatalf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, MaxIdleConnsPerHost)
	}
}
