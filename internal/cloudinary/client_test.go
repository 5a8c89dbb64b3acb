package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "1315060510", "public_id": "sample", "api_key": "key", "eager": ""})

	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=sample&timestamp=1315060510secret")))
	assert.Equal(t, want, got)
}

func TestUploadPNG(t *testing.T) {
	var form map[string]string
	var file []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			file, _ = io.ReadAll(f)
		}
		fmt.Fprint(w, `{"public_id":"cards/student_1","secure_url":"https://res.example/cards/student_1.png","format":"png","width":300,"height":300}`)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "cards")
	c.BaseURL = srv.URL
	c.Now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.UploadPNG(context.Background(), "student_1", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/cards/student_1.png", res.SecureURL)
	assert.Equal(t, 300, res.Width)

	assert.Equal(t, []byte("png-bytes"), file)
	assert.Equal(t, "key", form["api_key"])
	assert.Equal(t, "student_1", form["public_id"])
	want := c.sign(map[string]string{"timestamp": "1700000000", "public_id": "student_1", "overwrite": "true", "invalidate": "true", "folder": "cards"})
	assert.Equal(t, want, form["signature"])
}

func TestUploadPNGErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.UploadPNG(context.Background(), "x", []byte("png"))
	assert.ErrorContains(t, err, "401")

	_, err = New("", "", "", "").UploadPNG(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
