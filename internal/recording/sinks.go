package recording

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Backblaze/blazer/b2"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vrracer/camstream/internal/httputil"
)

// Uploader pushes a finished recording to whichever remote object store
// RecordingUploadProvider names. Provider selects the SDK; Bucket is the
// bucket/container name. The fallback HTTP PUT path (Provider == "")
// goes through internal/httputil.Do's retry wrapper; the SDK-backed
// providers rely on their own SDK's transport.
type Uploader struct {
	Client   *http.Client
	Provider string // s3|azure|gcs|b2|"" (plain HTTP PUT to Endpoint)
	Bucket   string
	Endpoint string // PUT <Endpoint>/<remotePath>, only used when Provider == ""
	Retry    httputil.RetryConfig
}

// NewUploader builds an Uploader for the named provider. For "s3" and
// "gcs" the target is bucket, authenticated through each SDK's default
// credential chain (environment/instance metadata); for "azure" the
// container is bucket and the client is built from the
// AZURE_STORAGE_CONNECTION_STRING environment variable. Cloud
// credentials are never embedded in config. For "b2" the Backblaze
// account id/key are read from B2_ACCOUNT_ID/B2_APPLICATION_KEY
// since blazer's client constructor takes them explicitly rather than
// resolving a default chain. Any other provider value (including "none")
// falls back to a plain HTTP PUT against bucket as the endpoint URL.
func NewUploader(provider, bucket string) *Uploader {
	switch provider {
	case "s3", "azure", "gcs", "b2":
		return &Uploader{Provider: provider, Bucket: bucket}
	default:
		return &Uploader{Client: &http.Client{}, Endpoint: bucket, Retry: httputil.DefaultRetryConfig()}
	}
}

// Upload reads localPath and ships it to remotePath under Bucket (or
// Endpoint, for the plain-HTTP fallback).
func (u *Uploader) Upload(ctx context.Context, localPath, remotePath string) error {
	switch u.Provider {
	case "s3":
		return u.uploadS3(ctx, localPath, remotePath)
	case "azure":
		return u.uploadAzure(ctx, localPath, remotePath)
	case "gcs":
		return u.uploadGCS(ctx, localPath, remotePath)
	case "b2":
		return u.uploadB2(ctx, localPath, remotePath)
	default:
		return u.uploadHTTP(ctx, localPath, remotePath)
	}
}

func (u *Uploader) uploadS3(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("recording: opening file for s3 upload: %w", err)
	}
	defer f.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("recording: loading aws config: %w", err)
	}
	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg))
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &u.Bucket,
		Key:    &remotePath,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("recording: s3 upload failed: %w", err)
	}
	return nil
}

func (u *Uploader) uploadAzure(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("recording: opening file for azure upload: %w", err)
	}
	defer f.Close()

	connStr := os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return fmt.Errorf("recording: building azure client: %w", err)
	}
	if _, err := client.UploadFile(ctx, u.Bucket, remotePath, f, nil); err != nil {
		return fmt.Errorf("recording: azure upload failed: %w", err)
	}
	return nil
}

func (u *Uploader) uploadGCS(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("recording: opening file for gcs upload: %w", err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("recording: building gcs client: %w", err)
	}
	defer client.Close()

	w := client.Bucket(u.Bucket).Object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("recording: gcs upload failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("recording: closing gcs writer: %w", err)
	}
	return nil
}

func (u *Uploader) uploadB2(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("recording: opening file for b2 upload: %w", err)
	}
	defer f.Close()

	client, err := b2.NewClient(ctx, os.Getenv("B2_ACCOUNT_ID"), os.Getenv("B2_APPLICATION_KEY"))
	if err != nil {
		return fmt.Errorf("recording: building b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, u.Bucket)
	if err != nil {
		return fmt.Errorf("recording: opening b2 bucket: %w", err)
	}
	w := bucket.Object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("recording: b2 upload failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("recording: closing b2 writer: %w", err)
	}
	return nil
}

func (u *Uploader) uploadHTTP(ctx context.Context, localPath, remotePath string) error {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("recording: reading file for upload: %w", err)
	}
	url := fmt.Sprintf("%s/%s", u.Endpoint, remotePath)
	resp, err := httputil.Do(ctx, u.Client, http.MethodPut, url, body, nil, u.Retry)
	if err != nil {
		return fmt.Errorf("recording: upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("recording: upload returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier emails a recipient with the recording file (and an optional
// auxiliary image, e.g. the position track) as attachments using
// net/smtp directly — no richer mail client is warranted for a single
// outbound message per recording.
type Notifier struct {
	Addr      string // smtp host:port
	Auth      smtp.Auth
	From      string
	Recipient string
}

func NewNotifier(addr, from, recipient string, auth smtp.Auth) *Notifier {
	return &Notifier{Addr: addr, Auth: auth, From: from, Recipient: recipient}
}

// Notify sends an email with filePath attached and, if trackPath is
// non-empty and exists, attached as a second part.
func (n *Notifier) Notify(recordingID, filePath, trackPath string) error {
	body, err := buildMIMEMultipart(n.From, n.Recipient, recordingID, filePath, trackPath)
	if err != nil {
		return fmt.Errorf("recording: building notification email: %w", err)
	}
	return smtp.SendMail(n.Addr, n.Auth, n.From, []string{n.Recipient}, body)
}

func buildMIMEMultipart(from, to, recordingID, filePath, trackPath string) ([]byte, error) {
	boundary := "camstream-recording-boundary"
	var buf []byte
	write := func(s string) { buf = append(buf, s...) }

	write("From: " + from + "\r\n")
	write("To: " + to + "\r\n")
	write("Subject: Recording complete: " + recordingID + "\r\n")
	write("MIME-Version: 1.0\r\n")
	write("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n\r\n")
	write("--" + boundary + "\r\n")
	write("Content-Type: text/plain\r\n\r\n")
	write("Recording " + recordingID + " has completed. See attached file(s).\r\n\r\n")

	if err := appendAttachment(&buf, boundary, filePath); err != nil {
		return nil, err
	}
	if trackPath != "" {
		if _, statErr := os.Stat(trackPath); statErr == nil {
			if err := appendAttachment(&buf, boundary, trackPath); err != nil {
				return nil, err
			}
		}
	}
	buf = append(buf, []byte("--"+boundary+"--\r\n")...)
	return buf, nil
}

func appendAttachment(buf *[]byte, boundary, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading attachment %s: %w", path, err)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
	header.Set("Content-Transfer-Encoding", "base64")

	*buf = append(*buf, []byte("--"+boundary+"\r\n")...)
	for k, vals := range header {
		for _, v := range vals {
			*buf = append(*buf, []byte(k+": "+v+"\r\n")...)
		}
	}
	*buf = append(*buf, []byte("\r\n")...)
	*buf = append(*buf, base64WithLineBreaks(data)...)
	*buf = append(*buf, []byte("\r\n")...)
	return nil
}

// base64WithLineBreaks encodes data and wraps it at the 76-column limit
// RFC 2045 requires for base64-encoded MIME body parts.
func base64WithLineBreaks(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out []byte
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		out = append(out, encoded[i:end]...)
		out = append(out, '\r', '\n')
	}
	return out
}
