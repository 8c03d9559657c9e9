package server

import (
	"log/slog"
	"strings"

	"github.com/geoyin/openpbs/pkg/job"
)

// Mailer notifies job owners.
type Mailer interface {
	// JobDeleted reports that user by deleted j.
	JobDeleted(j *job.Job, by string) error
}

// LogMailer writes notifications to the operational log instead of
// sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// JobDeleted logs the notification.
func (m LogMailer) JobDeleted(j *job.Job, by string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail",
		"to", j.Attrs[job.AttrOwner].Value.Str,
		"job", j.ID,
		"subject", "Job deleted",
		"by", by)
	return nil
}

// wantsMail reports whether the owner of j asked for mail on abort. An
// unset Mail_Points means "a".
func wantsMail(j *job.Job) bool {
	mp := &j.Attrs[job.AttrMailPoints]
	if !mp.IsSet() {
		return true
	}
	return strings.ContainsRune(mp.Value.Str, 'a')
}
