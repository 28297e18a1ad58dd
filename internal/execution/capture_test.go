package execution

import "testing"

func TestCaptureBufferUnbounded(t *testing.T) {
	c := newCaptureBuffer(0)
	_, _ = c.Write([]byte("hello "))
	_, _ = c.Write([]byte("world"))
	if c.String() != "hello world" {
		t.Fatalf("unexpected capture: %q", c.String())
	}
	if c.Dropped() != 0 {
		t.Fatalf("expected nothing dropped, got %d", c.Dropped())
	}
}

func TestCaptureBufferKeepsTail(t *testing.T) {
	c := newCaptureBuffer(4)
	n, err := c.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v; want 6, nil", n, err)
	}
	_, _ = c.Write([]byte("gh"))
	if c.String() != "efgh" {
		t.Fatalf("expected tail efgh, got %q", c.String())
	}
	if c.Dropped() != 4 {
		t.Fatalf("expected 4 dropped bytes, got %d", c.Dropped())
	}
}

func TestCaptureBufferBytesIsCopy(t *testing.T) {
	c := newCaptureBuffer(0)
	_, _ = c.Write([]byte("abc"))
	b := c.Bytes()
	b[0] = 'x'
	if c.String() != "abc" {
		t.Fatalf("Bytes must return a copy, buffer is now %q", c.String())
	}
}
