package dataset

import (
	"context"
	"net/mail"
	"strings"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/EarthModule/fairdata-metax-v3/internal/entity"
	"github.com/EarthModule/fairdata-metax-v3/internal/services"
	"github.com/EarthModule/fairdata-metax-v3/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var contactRoles = []string{
	entity.RoleCreator,
	entity.RoleContributor,
	entity.RolePublisher,
	entity.RoleCurator,
	entity.RoleRightsHolder,
}

type ContactMessage struct {
	Role    string `json:"role"`
	ReplyTo string `json:"reply_to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (m ContactMessage) validate() error {
	errs := apperr.FieldErrors{}
	valid := false
	for _, role := range contactRoles {
		valid = valid || role == m.Role
	}
	if !valid {
		errs["role"] = "Invalid role " + m.Role + "."
	}
	if _, err := mail.ParseAddress(m.ReplyTo); err != nil {
		errs["reply_to"] = "Enter a valid email address."
	}
	if strings.TrimSpace(m.Subject) == "" {
		errs["subject"] = "This field is required."
	}
	if strings.TrimSpace(m.Body) == "" {
		errs["body"] = "This field is required."
	}
	if len(errs) > 0 {
		return apperr.Validation.Wrap(errs)
	}
	return nil
}

// actorEmails returns the distinct addresses of actors with role. A person
// address is preferred over the organization address.
func actorEmails(ds *entity.Dataset, role string) []string {
	var emails []string
	seen := map[string]bool{}
	for i := range ds.Actors {
		actor := &ds.Actors[i]
		if !actor.HasRole(role) {
			continue
		}
		email := ""
		if actor.Person != nil && actor.Person.Email != "" {
			email = actor.Person.Email
		} else if actor.Organization != nil {
			email = actor.Organization.Email
		}
		if email != "" && !seen[email] {
			seen[email] = true
			emails = append(emails, email)
		}
	}
	return emails
}

// ContactRoles reports for each contactable role whether the dataset has an
// address to send to.
func (s *Service) ContactRoles(ctx context.Context, user utils.User, id uuid.UUID) (map[string]bool, error) {
	ds, err := s.Get(ctx, user, id, false)
	if err != nil {
		return nil, err
	}
	roles := make(map[string]bool, len(contactRoles))
	for _, role := range contactRoles {
		roles[role] = len(actorEmails(ds, role)) > 0
	}
	return roles, nil
}

// Contact emails msg to the actors of a published dataset with the requested
// role and returns the number of recipients.
func (s *Service) Contact(ctx context.Context, user utils.User, id uuid.UUID, msg ContactMessage) (int, error) {
	if err := msg.validate(); err != nil {
		return 0, err
	}
	ds, err := s.Get(ctx, user, id, false)
	if err != nil {
		return 0, err
	}
	if !ds.IsPublished() {
		return 0, apperr.Field("dataset", "Only published datasets can be contacted.")
	}

	recipients := actorEmails(ds, msg.Role)
	if len(recipients) == 0 {
		return 0, apperr.Field("role", "Dataset has no email addresses for role "+msg.Role+".")
	}
	if s.mailer == nil {
		return 0, apperr.Config.New("email delivery is not configured")
	}

	err = s.mailer.SendContactEmail(services.ContactEmail{
		To:         recipients,
		ReplyTo:    msg.ReplyTo,
		Subject:    msg.Subject,
		Body:       msg.Body,
		DatasetURL: strings.TrimRight(s.baseURL, "/") + "/v3/datasets/" + id.String(),
	})
	if err != nil {
		s.log.Error("Failed to send contact email", zap.Stringer("id", id), zap.Error(err))
		return 0, err
	}
	return len(recipients), nil
}
