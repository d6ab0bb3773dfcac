package email

import (
	"strings"
	"testing"
)

func TestBuildMessageMultipart(t *testing.T) {
	raw := BuildMessage("Pharmacy <noreply@pharmacy.test>", Message{
		To:      []string{"admin@pharmacy.test"},
		Subject: "Inventory Report",
		HTML:    "<p>report</p>",
		Text:    "report",
	})

	for _, want := range []string{
		"From: Pharmacy <noreply@pharmacy.test>",
		"To: admin@pharmacy.test",
		"Subject: Inventory Report",
		"multipart/alternative",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Type: text/html; charset=UTF-8",
		"<p>report</p>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("Message missing %q", want)
		}
	}
}

func TestBuildMessageHTMLOnly(t *testing.T) {
	raw := BuildMessage("noreply@pharmacy.test", Message{
		To:      []string{"a@b.test"},
		Subject: "s",
		HTML:    "<b>hi</b>",
	})

	if strings.Contains(raw, "multipart") {
		t.Error("Single-body message should not be multipart")
	}
	if !strings.Contains(raw, "Content-Type: text/html; charset=UTF-8") {
		t.Error("Expected HTML content type")
	}
}

func TestBuildMessageMultipleRecipients(t *testing.T) {
	raw := BuildMessage("noreply@pharmacy.test", Message{
		To:      []string{"a@b.test", "c@d.test"},
		Subject: "s",
		Text:    "t",
	})

	if !strings.Contains(raw, "To: a@b.test,c@d.test") {
		t.Error("Expected joined recipient list")
	}
}

func TestServiceNotReadyWithoutConfig(t *testing.T) {
	svc := New(Config{})
	if svc.Ready() {
		t.Error("Service without SMTP config must not be ready")
	}

	if err := svc.Send(Message{To: []string{"a@b.test"}, Subject: "s", Text: "t"}); err == nil {
		t.Error("Send on a disabled service should fail")
	}
}
