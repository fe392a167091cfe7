package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderNotificationTemplate(t *testing.T) {
	data := NotificationData{
		AppName:       "KilnGuard",
		RecipientName: "Test Burner",
		Title:         "Kiln emission alert",
		Body:          "High smoke detected: 180",
	}

	html, err := renderTemplate(notificationEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	for _, want := range []string{"KilnGuard", "Test Burner", "Kiln emission alert", "High smoke detected: 180"} {
		if !strings.Contains(html, want) {
			t.Errorf("template should contain %q", want)
		}
	}
}

func TestRenderNotificationTemplateEscapesBody(t *testing.T) {
	html, err := renderTemplate(notificationEmailTemplate, NotificationData{Title: "x", Body: "<script>alert(1)</script>"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatal("expected body to be escaped")
	}
}

func TestSendNotificationBuildsMessage(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "25", From: "noreply@example.com", FromName: "KilnGuard"})
	var gotTo []string
	var gotMsg string
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:25" {
			t.Fatalf("unexpected addr %s", addr)
		}
		if from != "noreply@example.com" {
			t.Fatalf("unexpected from %s", from)
		}
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	if err := svc.SendNotification("owner@example.com", "Owner", "Kiln approved for burning", "Monitoring will start."); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "owner@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: [KilnGuard] Kiln approved for burning") {
		t.Fatalf("missing subject in %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "From: KilnGuard <noreply@example.com>") {
		t.Fatalf("missing from header in %q", gotMsg)
	}
}

func TestSendWithoutConfigFails(t *testing.T) {
	if err := NewService(Config{}).SendNotification("a@example.com", "", "t", "b"); err == nil {
		t.Fatal("expected error when not configured")
	}
}
