package sigv4

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"
)

func newRequest(t *testing.T, method string) *http.Request {
	t.Helper()
	u := &url.URL{
		Scheme: "https",
		Host:   "bucket.s3.us-east-1.amazonaws.com",
		Path:   "/a/b c.txt",
	}
	req, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Host = u.Host
	return req
}

// TestHeadAndGetProduceDifferentSignatures guards against the historical bug
// class named in spec §4.9: a canonical request built for GET and reused for
// HEAD produces a signature the upstream rejects with SignatureDoesNotMatch.
// Because method flows into the signer as an explicit parameter (req.Method)
// rather than being inferred, HEAD and GET requests to the same path must
// sign to different Authorization headers.
func TestHeadAndGetProduceDifferentSignatures(t *testing.T) {
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	creds := Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"}

	headReq := newRequest(t, http.MethodHead)
	getReq := newRequest(t, http.MethodGet)

	s := New()
	if err := s.Sign(context.Background(), headReq, EmptyPayloadHash, creds, "us-east-1", at); err != nil {
		t.Fatalf("sign HEAD: %v", err)
	}
	if err := s.Sign(context.Background(), getReq, EmptyPayloadHash, creds, "us-east-1", at); err != nil {
		t.Fatalf("sign GET: %v", err)
	}

	headAuth := headReq.Header.Get("Authorization")
	getAuth := getReq.Header.Get("Authorization")
	if headAuth == "" || getAuth == "" {
		t.Fatal("expected non-empty Authorization header on both requests")
	}
	if headAuth == getAuth {
		t.Fatal("HEAD and GET signed to the same Authorization header; method is not flowing into the canonical request")
	}
}

// TestSignIsDeterministic confirms that signing the same (method, path,
// region, time, credentials) twice always yields the same Authorization
// header — required for the pipeline to safely retry a SelectReplica ->
// SignAndConnect attempt without producing spurious signature drift.
func TestSignIsDeterministic(t *testing.T) {
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	creds := Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"}
	s := New()

	req1 := newRequest(t, http.MethodGet)
	req2 := newRequest(t, http.MethodGet)
	if err := s.Sign(context.Background(), req1, EmptyPayloadHash, creds, "us-east-1", at); err != nil {
		t.Fatalf("sign 1: %v", err)
	}
	if err := s.Sign(context.Background(), req2, EmptyPayloadHash, creds, "us-east-1", at); err != nil {
		t.Fatalf("sign 2: %v", err)
	}
	if req1.Header.Get("Authorization") != req2.Header.Get("Authorization") {
		t.Fatal("identical inputs produced different signatures")
	}
}

// TestSignSetsContentSha256Header confirms x-amz-content-sha256 carries the
// caller-supplied payload hash through untouched, since downstream replicas
// validate it against the actual body they receive.
func TestSignSetsContentSha256Header(t *testing.T) {
	at := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	creds := Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY"}
	s := New()

	req := newRequest(t, http.MethodGet)
	if err := s.Sign(context.Background(), req, EmptyPayloadHash, creds, "us-east-1", at); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := req.Header.Get("X-Amz-Content-Sha256"); got != EmptyPayloadHash {
		t.Fatalf("X-Amz-Content-Sha256 = %q, want %q", got, EmptyPayloadHash)
	}
}

func TestHashBodyMatchesEmptyPayloadConstant(t *testing.T) {
	if got := HashBody(nil); got != EmptyPayloadHash {
		t.Fatalf("HashBody(nil) = %q, want %q", got, EmptyPayloadHash)
	}
}
