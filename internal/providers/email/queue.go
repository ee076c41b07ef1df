package email

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	signupdomain "github.com/smallbiznis/entrance/internal/signup/domain"
	"go.uber.org/zap"
)

const TypeVerifyAccount = "email:verify_account"

const verifyAccountMaxRetry = 5

// QueuedMailer hands confirm-account email to the asynq worker instead of
// talking to SMTP on the request path.
type QueuedMailer struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewQueuedMailer(client *asynq.Client, log *zap.Logger) *QueuedMailer {
	return &QueuedMailer{client: client, log: log.Named("email.queue")}
}

func (q *QueuedMailer) SendVerification(ctx context.Context, msg signupdomain.VerificationMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeVerifyAccount, payload, asynq.MaxRetry(verifyAccountMaxRetry))
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeVerifyAccount, err)
	}
	q.log.Debug("verification email enqueued", zap.String("task_id", info.ID), zap.String("queue", info.Queue))
	return nil
}

// Worker delivers queued email.
type Worker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	mailer signupdomain.VerificationMailer
	log    *zap.Logger
}

func NewWorker(redisOpt asynq.RedisClientOpt, concurrency int, mailer signupdomain.VerificationMailer, log *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		LogLevel:    asynq.WarnLevel,
	})
	w := &Worker{
		srv:    srv,
		mux:    asynq.NewServeMux(),
		mailer: mailer,
		log:    log.Named("email.worker"),
	}
	w.mux.HandleFunc(TypeVerifyAccount, w.handleVerifyAccount)
	return w
}

func (w *Worker) Start() error {
	return w.srv.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func (w *Worker) handleVerifyAccount(ctx context.Context, t *asynq.Task) error {
	var msg signupdomain.VerificationMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("decode %s payload: %w: %w", TypeVerifyAccount, err, asynq.SkipRetry)
	}
	if msg.To == "" || msg.Token == "" {
		return fmt.Errorf("incomplete %s payload: %w", TypeVerifyAccount, asynq.SkipRetry)
	}

	if err := w.mailer.SendVerification(ctx, msg); err != nil {
		w.log.Warn("verification email delivery failed", zap.Error(err))
		return err
	}
	return nil
}
