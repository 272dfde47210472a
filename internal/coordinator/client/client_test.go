package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

func TestDispatchDecodesSuccessResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(RunResponse{TaskID: "task-1", Status: "pending"})
	}))
	defer server.Close()

	c := New(Config{})
	resp, err := c.Dispatch(context.Background(), server.URL, RunRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.TaskID != "task-1" {
		t.Fatalf("expected task-1, got %s", resp.TaskID)
	}
}

func TestDispatchErrorsOnNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"code":"CAPACITY_EXCEEDED"}`))
	}))
	defer server.Close()

	c := New(Config{})
	if _, err := c.Dispatch(context.Background(), server.URL, RunRequest{Prompt: "hi"}); err == nil {
		t.Fatal("expected error on non-2xx dispatch response")
	}
}

func TestPollDecodesTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(v1.Task{ID: "task-1", Status: v1.TaskStatusCompleted})
	}))
	defer server.Close()

	c := New(Config{})
	task, err := c.Poll(context.Background(), server.URL, "task-1")
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if task.Status != v1.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
}

func TestCancelSucceedsOn2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(Config{})
	if err := c.Cancel(context.Background(), server.URL, "task-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
}
