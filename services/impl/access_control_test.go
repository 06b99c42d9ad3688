package impl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
)

func testAccessConfig(relaxed bool) *config.AccessConfig {
	return &config.AccessConfig{
		Sections:    []string{"restaurant_ops", "procedures", "standards"},
		RelaxedRead: relaxed,
		DetailedAccess: map[string]map[string]string{
			"restaurant_management": {
				"restaurant_ops": "full",
				"standards":      "read_only",
				"procedures":     "read_only",
			},
			"kitchen_management": {
				"restaurant_ops": "none",
				"standards":      "full",
				"procedures":     "full",
			},
		},
	}
}

func TestAccessControl(t *testing.T) {
	svc := NewAccessControlService(testAccessConfig(false))

	t.Run("full access implies read access", func(t *testing.T) {
		assert.True(t, svc.CheckSectionAccess("restaurant_management", "restaurant_ops", services.AccessReadOnly))
		assert.True(t, svc.CheckSectionAccess("restaurant_management", "restaurant_ops", services.AccessFull))
	})

	t.Run("read only does not grant full", func(t *testing.T) {
		assert.True(t, svc.CheckSectionAccess("restaurant_management", "standards", services.AccessReadOnly))
		assert.False(t, svc.CheckSectionAccess("restaurant_management", "standards", services.AccessFull))
	})

	t.Run("none denies everything", func(t *testing.T) {
		assert.False(t, svc.CheckSectionAccess("kitchen_management", "restaurant_ops", services.AccessReadOnly))
		assert.False(t, svc.CheckSectionAccess("kitchen_management", "restaurant_ops", services.AccessFull))
	})

	t.Run("unknown section or level denies", func(t *testing.T) {
		assert.False(t, svc.CheckSectionAccess("restaurant_management", "marketing", services.AccessReadOnly))
		assert.False(t, svc.CheckSectionAccess("unknown_level", "standards", services.AccessReadOnly))
	})

	t.Run("allowed sections are sorted", func(t *testing.T) {
		assert.Equal(t, []string{"procedures", "restaurant_ops", "standards"},
			svc.AllowedSections("restaurant_management"))
		assert.Equal(t, []string{"procedures", "standards"},
			svc.AllowedSections("kitchen_management"))
		assert.Empty(t, svc.AllowedSections("unknown_level"))
	})

	t.Run("upload and delete need full access", func(t *testing.T) {
		assert.True(t, svc.CanUpload("restaurant_management", "restaurant_ops"))
		assert.False(t, svc.CanUpload("restaurant_management", "standards"))
		assert.True(t, svc.CanDelete("kitchen_management", "procedures"))
		assert.False(t, svc.CanDelete("kitchen_management", "restaurant_ops"))
	})

	t.Run("known section check", func(t *testing.T) {
		assert.True(t, svc.KnownSection("standards"))
		assert.False(t, svc.KnownSection("marketing"))
	})
}

func TestAccessControlRelaxedRead(t *testing.T) {
	svc := NewAccessControlService(testAccessConfig(true))

	t.Run("every level reads every known section", func(t *testing.T) {
		assert.True(t, svc.CheckSectionAccess("kitchen_management", "restaurant_ops", services.AccessReadOnly))
		assert.True(t, svc.CheckSectionAccess("unknown_level", "standards", services.AccessReadOnly))
		assert.False(t, svc.CheckSectionAccess("kitchen_management", "marketing", services.AccessReadOnly))
	})

	t.Run("write rights still follow the matrix", func(t *testing.T) {
		assert.False(t, svc.CanUpload("kitchen_management", "restaurant_ops"))
		assert.False(t, svc.CheckSectionAccess("kitchen_management", "restaurant_ops", services.AccessFull))
	})

	t.Run("summary upgrades none to read only", func(t *testing.T) {
		summary := svc.AccessSummary("kitchen_management")
		assert.Equal(t, services.AccessReadOnly, summary["restaurant_ops"])
		assert.Equal(t, services.AccessFull, summary["procedures"])
	})
}
