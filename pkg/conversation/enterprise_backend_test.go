package conversation

import (
	"context"
	"errors"
	"testing"
)

func TestEnterpriseBackend_Unconfigured(t *testing.T) {
	b := NewEnterpriseBackend()
	ctx := context.Background()

	if b.Name() != "enterprise" {
		t.Errorf("name = %q", b.Name())
	}

	ops := map[string]func() error{
		"save conversation": func() error { return b.SaveConversation(ctx, testRecord("c1", "u1")) },
		"load conversation": func() error { _, err := b.LoadConversation(ctx, "c1"); return err },
		"list conversations": func() error {
			_, err := b.ListConversations(ctx, "u1", ListFilter{})
			return err
		},
		"delete conversation": func() error { return b.DeleteConversation(ctx, "c1") },
		"update metadata": func() error {
			return b.UpdateConversationMetadata(ctx, "c1", MetadataUpdate{})
		},
		"save template":  func() error { return b.SaveTemplate(ctx, &WorkflowTemplate{TemplateID: "t1"}) },
		"load template":  func() error { _, err := b.LoadTemplate(ctx, "t1"); return err },
		"list templates": func() error { _, err := b.ListTemplates(ctx, ""); return err },
		"save analytics": func() error { return b.SaveAnalytics(ctx, &UserAnalytics{UserID: "u1"}) },
		"load analytics": func() error { _, err := b.LoadAnalytics(ctx, "u1"); return err },
	}

	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%s: err = %v, want ErrNotConfigured", name, err)
		}
	}

	if err := b.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
