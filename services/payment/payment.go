package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"counsel/models"
	"counsel/realtime"
	"counsel/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPaymentService implements PaymentService against the platform
// backend's HTTP collaborators.
type DefaultPaymentService struct {
	BaseURL   string
	AuthToken string
	Client    *http.Client
	Channel   realtime.Channel
	Identity  *utils.Identity
	CallSvc   Activator
	ChatSvc   Activator
	Logger    *zap.Logger
}

// NewDefaultPaymentService wires the orchestrator with sane HTTP defaults.
func NewDefaultPaymentService(baseURL, authToken string, channel realtime.Channel, identity *utils.Identity, callSvc, chatSvc Activator, logger *zap.Logger) *DefaultPaymentService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &DefaultPaymentService{
		BaseURL:   baseURL,
		AuthToken: authToken,
		Client:    &http.Client{Timeout: 15 * time.Second},
		Channel:   channel,
		Identity:  identity,
		CallSvc:   callSvc,
		ChatSvc:   chatSvc,
		Logger:    logger,
	}
}

type orderResponse struct {
	Error   bool          `json:"error"`
	Message string        `json:"message"`
	Order   *models.Order `json:"order"`
}

// CreateOrder asks the backend to open a gateway order plus a provisional
// booking for the requested consultation.
func (s *DefaultPaymentService) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if _, err := models.ParseMode(string(req.Mode)); err != nil {
		return nil, NewOrderCreationError(err.Error(), err)
	}
	if req.DurationMinutes <= 0 || req.ProfessionalID == "" {
		return nil, NewOrderCreationError("invalid order request", nil)
	}

	var resp orderResponse
	if err := s.post(ctx, "/common/createorder", map[string]interface{}{
		"professionalId": req.ProfessionalID,
		"mode":           req.Mode,
		"duration":       req.DurationMinutes,
		"amount":         req.Amount(),
	}, &resp); err != nil {
		return nil, NewOrderCreationError("order creation request failed", err)
	}
	if resp.Error || resp.Order == nil || resp.Order.OrderID == "" || resp.Order.BookingID == "" {
		return nil, NewOrderCreationError(fmt.Sprintf("backend refused order: %s", resp.Message), nil)
	}

	s.Logger.Info("payment: order created",
		zap.String("orderId", resp.Order.OrderID),
		zap.String("bookingId", resp.Order.BookingID))
	return resp.Order, nil
}

type verifyResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	models.VerificationResult
}

// VerifyPayment submits the checkout proof for server-side verification.
// Only a verified:true answer activates anything; transport failures,
// backend errors and verified:false are all a VerificationError and leave
// the process with no session, no token and no room joins.
func (s *DefaultPaymentService) VerifyPayment(ctx context.Context, proof models.PaymentProof) (*models.SessionGrant, error) {
	var resp verifyResponse
	if err := s.post(ctx, "/common/paymentverify", proof, &resp); err != nil {
		return nil, NewVerificationError("payment verification request failed", err)
	}
	if resp.Error {
		return nil, NewVerificationError(fmt.Sprintf("payment verification rejected: %s", resp.Message), nil)
	}
	if !resp.Verified || resp.Booking == nil {
		return nil, NewVerificationError("payment not verified", nil)
	}

	grant := models.SessionGrant{
		Booking:      resp.Booking,
		SessionToken: "session_" + uuid.New().String(),
		Media:        resp.Media,
	}

	// Register realtime rooms exactly once per successful verification.
	// Channel.Join is idempotent per room and re-joins after reconnects.
	selfRoom := realtime.Room{Kind: realtime.RoomUser, ID: s.Identity.AccountID}
	if s.Identity.Role == string(models.RoleProfessional) {
		selfRoom.Kind = realtime.RoomProfessional
	}
	if err := s.Channel.Join(selfRoom); err != nil {
		s.Logger.Warn("payment: self room join deferred", zap.Error(err))
	}
	if err := s.Channel.Join(realtime.Room{Kind: realtime.RoomBooking, ID: resp.Booking.ID}); err != nil {
		s.Logger.Warn("payment: booking room join deferred", zap.Error(err))
	}

	activator := s.ChatSvc
	if resp.Booking.Mode.HasMedia() {
		activator = s.CallSvc
	}
	if err := activator.Activate(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to activate %s controller: %w", resp.Booking.Mode, err)
	}

	s.Logger.Info("payment: verified and activated",
		zap.String("bookingId", resp.Booking.ID),
		zap.String("mode", string(resp.Booking.Mode)))
	return &grant, nil
}

func (s *DefaultPaymentService) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.AuthToken)

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
