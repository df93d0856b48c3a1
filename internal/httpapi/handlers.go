package httpapi

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"schedhub/internal/activity"
	"schedhub/internal/apperr"
	"schedhub/internal/cursor"
	"schedhub/internal/docs"
	"schedhub/internal/sched"
)

// userID resolves the acting user injected by the auth collaborator.
func userID(c *gin.Context) string {
	if u := strings.TrimSpace(c.GetHeader("X-User-Id")); u != "" {
		return u
	}
	return strings.TrimSpace(c.Query("user"))
}

var reOffset = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)

// parseOffset turns a ±HH:MM timezone offset into a fixed location. Empty
// input means UTC.
func parseOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "Z" || strings.EqualFold(s, "UTC") {
		return time.UTC, nil
	}
	m := reOffset.FindStringSubmatch(s)
	if m == nil {
		return nil, apperr.E(apperr.KindBadRequest, "invalid timezoneOffset %q", raw)
	}
	hh, _ := strconv.Atoi(m[2])
	mm, _ := strconv.Atoi(m[3])
	if hh > 14 || mm > 59 {
		return nil, apperr.E(apperr.KindBadRequest, "timezoneOffset %q out of range", raw)
	}
	secs := hh*3600 + mm*60
	if m[1] == "-" {
		secs = -secs
	}
	if secs == 0 {
		return time.UTC, nil
	}
	return time.FixedZone("UTC"+s, secs), nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.E(apperr.KindBadRequest, "invalid %s %q", name, raw)
	}
	return n, nil
}

// ---- activities ----

func activitiesShape(user string) string { return "activities/" + user }

func (s *Server) getActivities(c *gin.Context) {
	user := userID(c)
	if user == "" {
		writeError(c, apperr.E(apperr.KindBadRequest, "user is required"))
		return
	}
	loc, err := parseOffset(c.Query("timezoneOffset"))
	if err != nil {
		writeError(c, err)
		return
	}
	requested, err := intQuery(c, "requestedCount")
	if err != nil {
		writeError(c, err)
		return
	}
	minimum, err := intQuery(c, "minimumPerTask")
	if err != nil {
		writeError(c, err)
		return
	}
	pageSize, err := intQuery(c, "pageSize")
	if err != nil {
		writeError(c, err)
		return
	}

	items, err := s.expander.GetOrCreate(c.Request.Context(), activity.Request{
		User:           user,
		Location:       loc,
		WindowDays:     requested,
		MinimumPerTask: minimum,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if pageSize <= 0 {
		c.JSON(http.StatusOK, gin.H{"items": items})
		return
	}

	shape := activitiesShape(user)
	var pos cursor.Position
	if key := c.Query("offsetKey"); key != "" {
		pos, err = cursor.Decode(key, shape)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	page := make([]activity.ScheduledActivity, 0, pageSize)
	var next string
	for _, a := range items {
		ms := a.ScheduledOn.UnixMilli()
		if ms < pos.Key || (ms == pos.Key && a.Seq <= pos.Seq) {
			continue
		}
		if len(page) == pageSize {
			last := page[len(page)-1]
			next = cursor.Encode(cursor.Position{Key: last.ScheduledOn.UnixMilli(), Seq: last.Seq}, shape)
			break
		}
		page = append(page, a)
	}
	resp := gin.H{"items": page}
	if next != "" {
		resp["nextPageOffsetKey"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getActivity(c *gin.Context) {
	rec, err := s.store.GetActivity(c.Request.Context(), c.Param("guid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, activity.FromRecord(rec, time.Now().UTC()))
}

func (s *Server) updateActivities(c *gin.Context) {
	var updates []activity.Update
	if err := c.ShouldBindJSON(&updates); err != nil {
		writeError(c, apperr.E(apperr.KindBadRequest, "invalid body: %v", err))
		return
	}
	results := s.lifecycle.Apply(c.Request.Context(), updates)

	items := make([]gin.H, 0, len(results))
	for _, r := range results {
		item := gin.H{"guid": r.Guid, "ok": r.Err == nil}
		if r.Err != nil {
			item["error"] = r.Err.Error()
			item["kind"] = apperr.KindOf(r.Err).String()
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) deleteActivities(c *gin.Context) {
	user := strings.TrimSpace(c.Query("user"))
	planGuid := strings.TrimSpace(c.Query("planGuid"))

	var (
		n   int64
		err error
	)
	switch {
	case user != "" && planGuid == "":
		n, err = s.store.DeleteActivitiesForUser(c.Request.Context(), user)
	case planGuid != "" && user == "":
		n, err = s.store.DeleteActivitiesForPlan(c.Request.Context(), planGuid)
	default:
		writeError(c, apperr.E(apperr.KindBadRequest, "exactly one of user or planGuid is required"))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// ---- schedule plans ----

func (s *Server) createPlan(c *gin.Context) {
	var p sched.SchedulePlan
	if err := c.ShouldBindJSON(&p); err != nil {
		writeError(c, apperr.E(apperr.KindBadRequest, "invalid body: %v", err))
		return
	}
	created, err := s.plans.Create(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listPlans(c *gin.Context) {
	plans, err := s.plans.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": plans})
}

func (s *Server) deletePlan(c *gin.Context) {
	if err := s.plans.Delete(c.Request.Context(), c.Param("guid")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---- documentation ----

func (s *Server) putDoc(c *gin.Context) {
	var r docs.Record
	if err := c.ShouldBindJSON(&r); err != nil {
		writeError(c, apperr.E(apperr.KindBadRequest, "invalid body: %v", err))
		return
	}
	if err := s.docs.CreateOrUpdate(c.Request.Context(), r); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identifier": r.Identifier})
}

func (s *Server) getDoc(c *gin.Context) {
	rec, err := s.docs.Get(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) listDocs(c *gin.Context) {
	parentID := strings.TrimSpace(c.Query("parentId"))
	if parentID == "" {
		writeError(c, apperr.E(apperr.KindBadRequest, "parentId is required"))
		return
	}
	pageSize, err := intQuery(c, "pageSize")
	if err != nil {
		writeError(c, err)
		return
	}
	page, err := s.docs.List(c.Request.Context(), parentID, c.Query("offsetKey"), pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"items": page.Items}
	if page.NextOffsetKey != "" {
		resp["nextPageOffsetKey"] = page.NextOffsetKey
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteDoc(c *gin.Context) {
	if err := s.docs.Delete(c.Request.Context(), c.Param("identifier")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteDocsForParent(c *gin.Context) {
	parentID := strings.TrimSpace(c.Query("parentId"))
	if parentID == "" {
		writeError(c, apperr.E(apperr.KindBadRequest, "parentId is required"))
		return
	}
	n, err := s.docs.DeleteForParent(c.Request.Context(), parentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
