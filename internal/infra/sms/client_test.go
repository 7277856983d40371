package sms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/tranzio/tranzio-api/internal/infra/config"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(config.SMSSettings{APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error without base url")
	}
	if _, err := NewClient(config.SMSSettings{BaseURL: "http://sms.local"}, nil); err == nil {
		t.Fatal("expected error without api key")
	}

	client, err := NewClient(config.SMSSettings{BaseURL: "http://sms.local", APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if client.httpClient.Timeout != defaultTimeout {
		t.Fatalf("expected default timeout, got %s", client.httpClient.Timeout)
	}
}

func TestSendOTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Authorization") != "test-api-key" {
			t.Errorf("Authorization = %q, want test-api-key", r.Header.Get("Authorization"))
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["route"] != "otp" || body["numbers"] != "9876543210" || body["variables"] != "048213" {
			t.Errorf("unexpected body %v", body)
		}
		if body["sender_id"] != "TRNZIO" {
			t.Errorf("sender_id = %v, want TRNZIO", body["sender_id"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(config.SMSSettings{BaseURL: server.URL, APIKey: "test-api-key", SenderID: "TRNZIO"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if err := client.SendOTP(context.Background(), "9876543210", "048213", time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("SendOTP returned error: %v", err)
	}
}

func TestSendOTPGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client, _ := NewClient(config.SMSSettings{BaseURL: server.URL, APIKey: "k"}, zaptest.NewLogger(t))

	err := client.SendOTP(context.Background(), "9876543210", "123456", time.Now())
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "status=502") || !strings.Contains(err.Error(), "upstream unavailable") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSendOTPHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client, _ := NewClient(config.SMSSettings{BaseURL: server.URL, APIKey: "k"}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.SendOTP(ctx, "9876543210", "123456", time.Now())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
