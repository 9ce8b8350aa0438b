package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
	"github.com/galadrimteam/goodfriend-relay/internal/events"
	"github.com/galadrimteam/goodfriend-relay/internal/guard"
)

// maxBodyBytes bounds publish request bodies.
const maxBodyBytes = 16 << 10

var (
	errMalformedBody = guard.NewRejection("MalformedBody", http.StatusBadRequest, "request body is not valid JSON for this route")
	errEmptyMessage  = guard.NewRejection("EmptyMessage", http.StatusBadRequest, events.ErrEmptyMessage.Error())
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errMalformedBody
	}
	return nil
}

// HandleHealth reports that the process is serving.
func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type featureSet struct {
	Features []map[string]any `json:"features"`
}

// HandleFeatures lists the API features this relay supports.
func (a *App) HandleFeatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, featureSet{Features: []map[string]any{
		{"PlayerEvents": map[string]bool{"stream": true, "worldchange": true, "loginstate": true}},
		{"Announcements": map[string]bool{"stream": true, "send": true}},
		{"Metadata": map[string]bool{"get": true}},
	}})
}

type minVersionResponse struct {
	VersionString string `json:"version_string"`
}

// HandleMinVersion returns the oldest game version publishers may run.
func (a *App) HandleMinVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, minVersionResponse{
		VersionString: a.store.Current().MinimumGameVersion().String(),
	})
}

type connectionCounts struct {
	PlayerEvents  int `json:"player_events"`
	Announcements int `json:"announcements"`
}

func (a *App) connections() connectionCounts {
	return connectionCounts{
		PlayerEvents:  a.PlayerEvents.Hub.SubscriberCount(),
		Announcements: a.Announcements.Hub.SubscriberCount(),
	}
}

type metadataResponse struct {
	About       config.About     `json:"about"`
	Connections connectionCounts `json:"connections"`
}

// HandleMetadata returns the relay description and live stream counts.
func (a *App) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metadataResponse{
		About:       a.store.Current().About,
		Connections: a.connections(),
	})
}

// HandleConnections returns the live subscriber count of each topic.
func (a *App) HandleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.connections())
}

// HandleValidateAuth succeeds whenever the authentication guard admitted the
// request.
func (a *App) HandleValidateAuth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// HandleLoginState publishes a login state change on the player events topic.
func (a *App) HandleLoginState(w http.ResponseWriter, r *http.Request) {
	var update events.LoginStateChange
	if err := decodeBody(w, r, &update); err != nil {
		guard.WriteError(w, err)
		return
	}
	a.publishPlayerEvent(w, r, update)
}

// HandleWorldChange publishes a world change on the player events topic.
func (a *App) HandleWorldChange(w http.ResponseWriter, r *http.Request) {
	var update events.WorldChange
	if err := decodeBody(w, r, &update); err != nil {
		guard.WriteError(w, err)
		return
	}
	a.publishPlayerEvent(w, r, update)
}

func (a *App) publishPlayerEvent(w http.ResponseWriter, r *http.Request, update events.PlayerStateUpdate) {
	adm := guard.FromContext(r.Context())
	if adm == nil {
		guard.WriteError(w, errors.New("player event published without admission"))
		return
	}

	receivers := a.PlayerEvents.Hub.Publish(events.PlayerEvent{
		ContentIDHash: adm.Fingerprint.Hash,
		ContentIDSalt: adm.Fingerprint.Salt,
		Update:        update,
	})
	a.metrics.published.WithLabelValues(a.PlayerEvents.Name).Inc()
	a.logger.Debug("Published player event", "type", update.Kind(), "receivers", receivers)

	w.WriteHeader(http.StatusAccepted)
}

type sendAnnouncementResponse struct {
	ID uuid.UUID `json:"id"`
}

// HandleSendAnnouncement publishes an operator announcement.
func (a *App) HandleSendAnnouncement(w http.ResponseWriter, r *http.Request) {
	var ann events.Announcement
	if err := decodeBody(w, r, &ann); err != nil {
		guard.WriteError(w, err)
		return
	}
	if err := ann.Prepare(); err != nil {
		guard.WriteError(w, errEmptyMessage)
		return
	}

	receivers := a.Announcements.Hub.Publish(ann)
	a.metrics.published.WithLabelValues(a.Announcements.Name).Inc()
	a.logger.Info("Sent announcement",
		"id", ann.ID,
		"kind", ann.Kind,
		"cause", ann.Cause,
		"receivers", receivers,
	)

	writeJSON(w, http.StatusAccepted, sendAnnouncementResponse{ID: ann.ID})
}
