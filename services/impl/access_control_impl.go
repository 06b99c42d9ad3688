package impl

import (
	"log"
	"sort"

	"github.com/rms-knowledge-service/config"
	"github.com/rms-knowledge-service/services"
)

// accessControlImpl evaluates the tenant access matrix from configuration.
// The relaxed-read policy, when enabled, opens read access to every known
// section while upload and delete rights keep following the matrix.
type accessControlImpl struct {
	sections    []string
	matrix      map[string]map[string]string
	relaxedRead bool
}

func NewAccessControlService(cfg *config.AccessConfig) services.AccessControlService {
	if cfg.RelaxedRead {
		log.Printf("[WARN] relaxed read access enabled: all sections are readable by every access level")
	}
	return &accessControlImpl{
		sections:    cfg.Sections,
		matrix:      cfg.DetailedAccess,
		relaxedRead: cfg.RelaxedRead,
	}
}

func (s *accessControlImpl) KnownSection(section string) bool {
	for _, known := range s.sections {
		if known == section {
			return true
		}
	}
	return false
}

// CheckSectionAccess reports whether an access level holds the required right
// on a section. required is AccessReadOnly or AccessFull; full access always
// implies read access.
func (s *accessControlImpl) CheckSectionAccess(subscriptionType, section, required string) bool {
	if !s.KnownSection(section) {
		return false
	}
	if required == services.AccessReadOnly && s.relaxedRead {
		return true
	}

	right := s.right(subscriptionType, section)
	switch required {
	case services.AccessReadOnly:
		return right == services.AccessReadOnly || right == services.AccessFull
	case services.AccessFull:
		return right == services.AccessFull
	default:
		return false
	}
}

// AllowedSections lists every section the access level may read, sorted for
// stable output.
func (s *accessControlImpl) AllowedSections(subscriptionType string) []string {
	var allowed []string
	for _, section := range s.sections {
		if s.CheckSectionAccess(subscriptionType, section, services.AccessReadOnly) {
			allowed = append(allowed, section)
		}
	}
	sort.Strings(allowed)
	return allowed
}

func (s *accessControlImpl) CanUpload(subscriptionType, section string) bool {
	return s.right(subscriptionType, section) == services.AccessFull
}

func (s *accessControlImpl) CanDelete(subscriptionType, section string) bool {
	return s.right(subscriptionType, section) == services.AccessFull
}

// AccessSummary maps every known section to the effective right of the access
// level, for the upload-options endpoint.
func (s *accessControlImpl) AccessSummary(subscriptionType string) map[string]string {
	summary := make(map[string]string, len(s.sections))
	for _, section := range s.sections {
		right := s.right(subscriptionType, section)
		if right == services.AccessNone && s.relaxedRead {
			right = services.AccessReadOnly
		}
		summary[section] = right
	}
	return summary
}

func (s *accessControlImpl) right(subscriptionType, section string) string {
	if rights, ok := s.matrix[subscriptionType]; ok {
		if right, ok := rights[section]; ok {
			return right
		}
	}
	return services.AccessNone
}
