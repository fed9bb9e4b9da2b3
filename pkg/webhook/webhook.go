package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/jenkins-x/go-scm/scm"
	"github.com/jenkins-x/go-scm/scm/factory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/peergate/peergate/pkg/dispatch"
)

// Controller accepts webhook deliveries, parses and validates them and hands
// them to the dispatcher.
type Controller struct {
	dispatcher *dispatch.Dispatcher
	parser     *scm.Client
	hmacToken  string
	path       string

	// Tracks in-flight deliveries for graceful shutdown
	wg sync.WaitGroup
}

// NewController creates the webhook controller. The parser client carries no
// credential: parsing only needs the provider's payload shapes.
func NewController(dispatcher *dispatch.Dispatcher, kind, serverURL, hmacToken, path string) (*Controller, error) {
	parser, err := factory.NewClient(kind, serverURL, "")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s parser client", kind)
	}
	if path == "" {
		path = "/hook"
	}
	return &Controller{
		dispatcher: dispatcher,
		parser:     parser,
		hmacToken:  hmacToken,
		path:       path,
	}, nil
}

func (c *Controller) secretFn(scm.Webhook) (string, error) {
	return c.hmacToken, nil
}

// Health returns HTTP 204 if the service is healthy.
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	logrus.Debug("Health check")
	w.WriteHeader(http.StatusNoContent)
}

// Ready returns HTTP 204 if the service is ready to serve requests.
func (c *Controller) Ready(w http.ResponseWriter, r *http.Request) {
	logrus.Debug("Ready check")
	w.WriteHeader(http.StatusNoContent)
}

// Metrics serves the prometheus metrics.
func (c *Controller) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// Mux returns the http handler for the controller.
func (c *Controller) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(c.path, c.HandleWebhookRequests)
	mux.HandleFunc("/health", c.Health)
	mux.HandleFunc("/ready", c.Ready)
	mux.HandleFunc("/metrics", c.Metrics)
	return mux
}

// Wait blocks until all in-flight deliveries have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// HandleWebhookRequests handles incoming webhook events.
func (c *Controller) HandleWebhookRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		// liveness probe etc
		logrus.WithField("method", r.Method).Debug("invalid http method so returning 200")
		return
	}
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		c.responseHTTPError(w, http.StatusInternalServerError, fmt.Sprintf("500 Internal Server Error: Read Body: %s", err.Error()))
		return
	}
	if err = r.Body.Close(); err != nil {
		c.responseHTTPError(w, http.StatusInternalServerError, fmt.Sprintf("500 Internal Server Error: Close Body: %s", err.Error()))
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	hook, err := c.parser.Webhooks.Parse(r, c.secretFn)
	if err != nil {
		if errors.Is(err, scm.ErrSignatureInvalid) {
			c.responseHTTPError(w, http.StatusForbidden, "403 Forbidden: Invalid webhook signature")
			return
		}
		logrus.Warnf("failed to parse webhook: %s", err.Error())
		c.responseHTTPError(w, http.StatusBadRequest, fmt.Sprintf("400 Bad Request: Failed to parse webhook: %s", err.Error()))
		return
	}
	if hook == nil {
		c.responseHTTPError(w, http.StatusBadRequest, "400 Bad Request: No webhook could be parsed")
		return
	}
	webhookCounter.WithLabelValues(string(hook.Kind())).Inc()

	payload := ConvertWebhook(hook, bodyBytes)
	if payload == nil {
		logrus.WithField("kind", hook.Kind()).Debug("no checks react to this webhook kind")
		responseCounter.WithLabelValues(strconv.Itoa(http.StatusNoContent)).Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	log := logrus.WithFields(logrus.Fields{
		"org":    payload.Repo.Owner,
		"repo":   payload.Repo.Name,
		"event":  payload.Event,
		"action": payload.Action,
	})
	log.Info("Webhook received.")

	// deliveries are independent: once dispatch starts there is no
	// cancellation path, so the request context is deliberately not used
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.dispatcher.HandleWebhook(context.Background(), payload); err != nil {
			log.WithError(err).Error("Failed to dispatch webhook.")
		}
	}()
	responseCounter.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("processed webhook"))
}

func (c *Controller) responseHTTPError(w http.ResponseWriter, statusCode int, response string) {
	logrus.WithFields(logrus.Fields{
		"response":    response,
		"status-code": statusCode,
	}).Info(response)
	responseCounter.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	http.Error(w, response, statusCode)
}
