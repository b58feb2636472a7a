package gateway

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallnest/releasedash/devops"
	"github.com/smallnest/releasedash/errors"
	"github.com/tidwall/gjson"
)

// Field names posted by the release page.
const (
	fieldReleaseID      = "release-id"
	fieldReleaseTime    = "release-datetime"
	fieldEnvironmentIDs = "release-env"
	fieldStatuses       = "release-status"
	fieldApprovalIDs    = "release-approval"
	fieldTimezoneOffset = "timezone-offset"
)

// localTimeLayouts are tried in order for a zone-less schedule time.
var localTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// approveForm holds the rows of the release page. The three lists are
// parallel: index i of each describes the same environment.
type approveForm struct {
	ReleaseID      string
	ReleaseTime    string
	EnvironmentIDs []string
	Statuses       []string
	ApprovalIDs    []string
	TimezoneOffset string
}

type approvePlan struct {
	Starts    []devops.StartReleaseRequest
	Approvals []int
}

// readApproveForm accepts a JSON object or an urlencoded form.
func readApproveForm(r *http.Request) (approveForm, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return approveForm{}, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid form")
		}
		f := r.PostForm
		return approveForm{
			ReleaseID:      f.Get(fieldReleaseID),
			ReleaseTime:    f.Get(fieldReleaseTime),
			EnvironmentIDs: f[fieldEnvironmentIDs],
			Statuses:       f[fieldStatuses],
			ApprovalIDs:    f[fieldApprovalIDs],
			TimezoneOffset: f.Get(fieldTimezoneOffset),
		}, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return approveForm{}, errors.Wrap(err, errors.ErrCodeInvalidInput, "read request body")
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return approveForm{}, errors.InvalidInput("request body must be a JSON object")
	}
	doc := gjson.ParseBytes(data)
	return approveForm{
		ReleaseID:      doc.Get(fieldReleaseID).String(),
		ReleaseTime:    doc.Get(fieldReleaseTime).String(),
		EnvironmentIDs: stringList(doc.Get(fieldEnvironmentIDs)),
		Statuses:       stringList(doc.Get(fieldStatuses)),
		ApprovalIDs:    stringList(doc.Get(fieldApprovalIDs)),
		TimezoneOffset: doc.Get(fieldTimezoneOffset).String(),
	}, nil
}

// stringList reads a scalar or an array of scalars.
func stringList(v gjson.Result) []string {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	if !v.IsArray() {
		return []string{v.String()}
	}
	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

// planApproval turns the page rows into commands. Without a schedule time,
// rows that carry an approval id are approved. Every other row with an
// environment id is started, at the schedule time when one was given.
// fallbackReleaseID is used when the form omits the release id.
func planApproval(f approveForm, fallbackReleaseID int) approvePlan {
	releaseID, err := strconv.Atoi(strings.TrimSpace(f.ReleaseID))
	if err != nil {
		releaseID = fallbackReleaseID
	}
	offset, _ := strconv.Atoi(strings.TrimSpace(f.TimezoneOffset))
	scheduled, hasTime := parseScheduleTime(f.ReleaseTime, offset)

	var plan approvePlan
	for i, rawEnv := range f.EnvironmentIDs {
		if !hasTime {
			if id, ok := atIndex(f.ApprovalIDs, i); ok {
				plan.Approvals = append(plan.Approvals, id)
				continue
			}
		}
		envID, err := strconv.Atoi(strings.TrimSpace(rawEnv))
		if err != nil {
			continue
		}
		req := devops.StartReleaseRequest{
			ReleaseID:     releaseID,
			EnvironmentID: envID,
		}
		if i < len(f.Statuses) {
			req.Status = strings.TrimSpace(f.Statuses[i])
		}
		if hasTime {
			t := scheduled
			req.ScheduledTime = &t
		}
		plan.Starts = append(plan.Starts, req)
	}
	return plan
}

func atIndex(values []string, i int) (int, bool) {
	if i >= len(values) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(values[i]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseScheduleTime reads the page's local time and shifts it to UTC.
// offsetMinutes is what the browser reports: minutes to add to local time
// to get UTC. A value that carries its own zone is used as is.
func parseScheduleTime(value string, offsetMinutes int) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), true
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.Add(time.Duration(offsetMinutes) * time.Minute), true
		}
	}
	return time.Time{}, false
}
