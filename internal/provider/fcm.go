package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/villa-dispatch/internal/domain"
	"github.com/notifyhub/villa-dispatch/internal/repository"
)

const (
	// FCM accepts at most this many registration ids per multicast request.
	fcmMaxTokensPerRequest = 500
	fcmParallelRequests    = 4
)

// ErrNoDeviceTokens means the staff member has no registered device.
var ErrNoDeviceTokens = errors.New("no device tokens registered for staff member")

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmMessage struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Priority        string            `json:"priority"`
	CollapseKey     string            `json:"collapse_key,omitempty"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmResult struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type fcmResponse struct {
	MulticastID int64       `json:"multicast_id"`
	Success     int         `json:"success"`
	Failure     int         `json:"failure"`
	Results     []fcmResult `json:"results"`
}

// chunkOutcome is what one multicast request produced.
type chunkOutcome struct {
	multicastID int64
	success     int
	stale       []string
	err         error
}

// FCMProvider delivers push notifications to every device of a staff member
// through FCM multicast requests.
type FCMProvider struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
	devices    repository.DeviceRepository
	logger     *zap.Logger
	chunkSize  int
}

func NewFCMProvider(endpoint, serverKey string, timeout time.Duration, devices repository.DeviceRepository, logger *zap.Logger) *FCMProvider {
	return &FCMProvider{
		endpoint:   endpoint,
		serverKey:  serverKey,
		httpClient: &http.Client{Timeout: timeout},
		devices:    devices,
		logger:     logger,
		chunkSize:  fcmMaxTokensPerRequest,
	}
}

// Send fans the staff member's tokens out over concurrent multicast
// requests. Delivery counts as done when any device accepted it; tokens FCM
// reports as unregistered are pruned either way.
func (p *FCMProvider) Send(ctx context.Context, n *domain.Notification) (*SendResponse, error) {
	devices, err := p.devices.ListByStaff(ctx, n.StaffID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	if len(devices) == 0 {
		return nil, Permanent(ErrNoDeviceTokens)
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}
	chunks := chunkTokens(tokens, p.chunkSize)
	outcomes := make([]chunkOutcome, len(chunks))

	var g errgroup.Group
	g.SetLimit(fcmParallelRequests)
	for i, chunk := range chunks {
		g.Go(func() error {
			outcomes[i] = p.sendChunk(ctx, n, chunk)
			return nil
		})
	}
	_ = g.Wait()

	var (
		success  int
		stale    []string
		ids      []string
		firstErr error
		allPerm  = true
	)
	for _, o := range outcomes {
		success += o.success
		stale = append(stale, o.stale...)
		if o.success > 0 {
			ids = append(ids, strconv.FormatInt(o.multicastID, 10))
		}
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			if !IsPermanent(o.err) {
				allPerm = false
			}
		}
	}

	if len(stale) > 0 {
		if err := p.devices.DeleteTokens(ctx, stale); err != nil {
			p.logger.Warn("failed to prune stale device tokens",
				zap.String("staff_id", n.StaffID), zap.Int("count", len(stale)), zap.Error(err))
		} else {
			p.logger.Info("pruned stale device tokens",
				zap.String("staff_id", n.StaffID), zap.Int("count", len(stale)))
		}
	}

	if success > 0 {
		return &SendResponse{
			MessageID: strings.Join(ids, ","),
			Status:    fmt.Sprintf("delivered to %d/%d devices", success, len(tokens)),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, nil
	}

	if firstErr == nil {
		firstErr = errors.New("fcm rejected every device token")
	}
	if allPerm {
		return nil, Permanent(firstErr)
	}
	return nil, firstErr
}

func (p *FCMProvider) sendChunk(ctx context.Context, n *domain.Notification, tokens []string) chunkOutcome {
	msg := fcmMessage{
		RegistrationIDs: tokens,
		Priority:        "normal",
		CollapseKey:     n.FingerprintID,
		Notification:    fcmNotification{Title: n.Title, Body: n.Body},
		Data:            pushData(n),
	}
	if n.Priority == domain.PriorityHigh {
		msg.Priority = "high"
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return chunkOutcome{err: Permanent(fmt.Errorf("marshal fcm message: %w", err))}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return chunkOutcome{err: Permanent(fmt.Errorf("create fcm request: %w", err))}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.serverKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return chunkOutcome{err: fmt.Errorf("send fcm request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		return chunkOutcome{err: Permanent(fmt.Errorf("fcm rejected request: status %d", resp.StatusCode))}
	default:
		return chunkOutcome{err: fmt.Errorf("unexpected fcm status: %d", resp.StatusCode)}
	}

	var fr fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return chunkOutcome{err: fmt.Errorf("decode fcm response: %w", err)}
	}

	out := chunkOutcome{multicastID: fr.MulticastID}
	retryable := false
	for i, r := range fr.Results {
		if i >= len(tokens) {
			break
		}
		switch r.Error {
		case "":
			out.success++
		case "NotRegistered", "InvalidRegistration":
			out.stale = append(out.stale, tokens[i])
		case "MismatchSenderId", "MessageTooBig", "InvalidDataKey", "InvalidTtl", "InvalidPackageName":
			// the message itself is wrong; resending cannot help
		default:
			// Unavailable, InternalServerError, the rate-exceeded codes and
			// anything FCM adds later.
			retryable = true
		}
	}
	if out.success == 0 {
		err := fmt.Errorf("fcm multicast %d: %d of %d tokens failed", fr.MulticastID, fr.Failure, len(tokens))
		if retryable {
			out.err = err
		} else {
			out.err = Permanent(err)
		}
	}
	return out
}

// pushData merges the notification's data with the identifiers the mobile
// client uses for its own duplicate check.
func pushData(n *domain.Notification) map[string]string {
	data := make(map[string]string, len(n.Data)+4)
	for k, v := range n.Data {
		data[k] = v
	}
	data["notification_id"] = n.ID
	data["fingerprint_id"] = n.FingerprintID
	data["job_id"] = n.JobID
	data["event_type"] = string(n.EventType)
	return data
}

func chunkTokens(tokens []string, size int) [][]string {
	if size <= 0 {
		size = fcmMaxTokensPerRequest
	}
	var chunks [][]string
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		chunks = append(chunks, tokens[start:end])
	}
	return chunks
}

var _ Provider = (*FCMProvider)(nil)
