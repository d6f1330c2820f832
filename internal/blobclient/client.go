// Пакет blobclient — HTTP-клиент удалённого blob store.
// Поддерживает TLS с кастомным CA (FC_BLOBSTORE_CA_CERT_PATH).
// Операции: Upload (POST /api/upload, multipart) и Delete (DELETE /api/files/{path}).
// Все запросы подписываются сервисным ключом в заголовке x-api-key.
package blobclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIKeyHeader — заголовок с сервисным ключом blob store.
const APIKeyHeader = "x-api-key"

// FormField — имя поля multipart с содержимым файла.
const FormField = "files"

// Ошибки клиента. Сервисный слой сопоставляет их со своей таксономией.
var (
	// ErrNotConfigured — не задан адрес или сервисный ключ blob store.
	ErrNotConfigured = errors.New("blob store не сконфигурирован")
	// ErrUnauthorized — blob store отклонил сервисный ключ (HTTP 401).
	ErrUnauthorized = errors.New("blob store отклонил сервисный ключ")
	// ErrPayloadTooLarge — blob store отклонил размер файла (HTTP 413).
	ErrPayloadTooLarge = errors.New("blob store: файл слишком большой")
	// ErrUnavailable — соединение отклонено или адрес недостижим.
	ErrUnavailable = errors.New("blob store недоступен")
	// ErrTimeout — blob store не ответил за отведённое время.
	ErrTimeout = errors.New("blob store не ответил вовремя")
	// ErrUpstream — прочий не-2xx ответ или некорректное тело ответа.
	ErrUpstream = errors.New("ошибка blob store")
)

// Prometheus-метрики обращений к blob store.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fc_blobstore_requests_total",
		Help: "Количество запросов к blob store по операциям и результатам",
	}, []string{"operation", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fc_blobstore_request_duration_seconds",
		Help:    "Длительность запросов к blob store в секундах",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms … ~7m
	}, []string{"operation"})
)

// StatusError — не-2xx ответ blob store.
type StatusError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("blob store вернул статус %d: %s", e.StatusCode, e.Body)
}

// Unwrap позволяет проверять вид ошибки через errors.Is.
func (e *StatusError) Unwrap() error {
	return e.kind
}

// UploadedFile — описание файла из ответа blob store.
// Значения авторитетны: путь, размер и MIME-тип определяет хранилище.
type UploadedFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// uploadResponse — тело ответа POST /api/upload.
type uploadResponse struct {
	Message string         `json:"message"`
	Files   []UploadedFile `json:"files"`
}

// UploadRequest — параметры загрузки одного файла.
type UploadRequest struct {
	// FileName — имя файла в multipart
	FileName string
	// ContentType — заявленный MIME-тип (пустой — application/octet-stream)
	ContentType string
	// Body — содержимое файла, читается потоково
	Body io.Reader
}

// Options — параметры клиента.
type Options struct {
	// BaseURL — базовый адрес blob store
	BaseURL string
	// APIKey — сервисный ключ
	APIKey string
	// Timeout — общий таймаут запроса (включая передачу тела)
	Timeout time.Duration
	// DialTimeout — таймаут установки соединения
	DialTimeout time.Duration
	// CACertPath — путь к CA-сертификату (пустая строка — системный пул)
	CACertPath string
}

// Client — HTTP-клиент blob store.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// New создаёт клиент blob store.
// Пустые BaseURL/APIKey не являются ошибкой конструктора: операции
// вернут ErrNotConfigured, а проверку на старте выполняет config.Load.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	if opts.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата blob store: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат blob store добавлен в пул доверия",
			slog.String("ca_cert", opts.CACertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		logger:     logger.With(slog.String("component", "blob_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Configured сообщает, заданы ли адрес и сервисный ключ.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Upload передаёт файл в blob store одним multipart-запросом.
// Тело не буферизуется: multipart пишется в pipe параллельно с отправкой.
// Возвращает первое описание файла из ответа; ответ без files[0],
// с пустым путём или отрицательным размером считается ErrUpstream.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadedFile, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	file, err := c.upload(ctx, req)
	c.observe("upload", start, err)
	return file, err
}

func (c *Client) upload(ctx context.Context, req UploadRequest) (*UploadedFile, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("создание запроса Upload: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Прерываем запись multipart, если запрос не состоялся
		pr.CloseWithError(err)
		return nil, classifyTransportError("Upload", err)
	}
	defer resp.Body.Close()
	// Гарантирует выход writeMultipart при досрочном ответе хранилища
	defer pr.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var body uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: декодирование ответа Upload: %v", ErrUpstream, err)
	}
	if len(body.Files) == 0 {
		return nil, fmt.Errorf("%w: ответ Upload не содержит files[0]", ErrUpstream)
	}

	file := body.Files[0]
	if file.Path == "" {
		return nil, fmt.Errorf("%w: ответ Upload не содержит путь файла", ErrUpstream)
	}
	if file.Size < 0 {
		return nil, fmt.Errorf("%w: ответ Upload содержит отрицательный размер %d", ErrUpstream, file.Size)
	}

	return &file, nil
}

// writeMultipart пишет единственную часть с файлом и закрывает multipart.
func writeMultipart(mw *multipart.Writer, req UploadRequest) error {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		FormField, escapeQuotes(req.FileName)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, req.Body); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// Delete удаляет blob по пути. Ответ 404 считается успехом:
// blob уже отсутствует, цель операции достигнута.
func (c *Client) Delete(ctx context.Context, storagePath string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	start := time.Now()
	err := c.delete(ctx, storagePath)
	c.observe("delete", start, err)
	return err
}

func (c *Client) delete(ctx context.Context, storagePath string) error {
	reqURL := c.baseURL + "/api/files/" + url.PathEscape(storagePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("создание запроса Delete: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError("Delete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("Blob уже отсутствует в хранилище", slog.String("path", storagePath))
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// statusError формирует StatusError с видом ошибки по статус-коду.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	kind := ErrUpstream
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = ErrUnauthorized
	case http.StatusRequestEntityTooLarge:
		kind = ErrPayloadTooLarge
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		kind:       kind,
	}
}

// classifyTransportError сопоставляет сетевую ошибку с видом ошибки клиента.
// Ошибки установки соединения (отказ, DNS, недостижимость, таймаут dial)
// — ErrUnavailable; таймаут уже установленного запроса — ErrTimeout.
func classifyTransportError(op string, err error) error {
	var opErr *net.OpError
	var dnsErr *net.DNSError

	switch {
	case errors.As(err, &opErr) && opErr.Op == "dial",
		errors.As(err, &dnsErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s отменён: %w", op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// observe записывает метрики запроса.
func (c *Client) observe(operation string, start time.Time, err error) {
	requestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
