package phototag

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
	"google.golang.org/genai"
	"k8s.io/klog/v2"
)

// Labeler returns descriptive labels for a JPEG image.
type Labeler interface {
	DetectLabels(ctx context.Context, jpeg []byte) ([]string, error)
}

// VisionLabeler uses Cloud Vision label detection.
type VisionLabeler struct {
	svc        *vision.Service
	maxResults int64
}

// NewVisionLabeler creates a Cloud Vision client. Either an API key or a
// service account credentials file is used; with neither, application
// default credentials apply.
func NewVisionLabeler(ctx context.Context, apiKey string, credentials string, maxResults int) (*VisionLabeler, error) {
	var opts []option.ClientOption
	switch {
	case apiKey != "":
		opts = append(opts, option.WithAPIKey(apiKey))
	case credentials != "":
		opts = append(opts, option.WithCredentialsFile(credentials))
	}

	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	return &VisionLabeler{svc: svc, maxResults: int64(maxResults)}, nil
}

// DetectLabels implements Labeler.
func (v *VisionLabeler) DetectLabels(ctx context.Context, jpeg []byte) ([]string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(jpeg)},
				Features: []*vision.Feature{{Type: "LABEL_DETECTION", MaxResults: v.maxResults}},
			},
		},
	}

	resp, err := v.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("annotate: empty response")
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, fmt.Errorf("annotate: %d %s", r.Error.Code, r.Error.Message)
	}

	labels := make([]string, 0, len(r.LabelAnnotations))
	for _, a := range r.LabelAnnotations {
		labels = append(labels, a.Description)
	}
	return labels, nil
}

const tagPrompt = "generate 1-10 comma-separated tags for this photo. " +
	"Tags should be a present-tense singular word or short phrase that a professional photographer would " +
	"want to organize their photo albums with, such as landscape, bird, beach, forest, sunrise, urban, boat. " +
	"Use bw for black and white photos. do not use plural words. use rock instead of rocks. " +
	"If you know the location of a photo, add the name of the place, city, or country as a tag. " +
	"If you know the animal genus, add the genus as a tag. Reply with the tags only."

// GeminiLabeler asks a Gemini model for tags.
type GeminiLabeler struct {
	client *genai.Client
	model  string
}

// NewGeminiLabeler creates a Gemini API client.
func NewGeminiLabeler(ctx context.Context, apiKey string, model string) (*GeminiLabeler, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: %w", err)
	}
	return &GeminiLabeler{client: client, model: model}, nil
}

// DetectLabels implements Labeler.
func (g *GeminiLabeler) DetectLabels(ctx context.Context, jpeg []byte) ([]string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(jpeg, "image/jpeg"),
			genai.NewPartFromText(tagPrompt),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return parseTags(resp.Text()), nil
}

// parseTags splits a comma-separated model reply into tags.
func parseTags(reply string) []string {
	var tags []string
	for _, t := range strings.Split(reply, ",") {
		t = strings.TrimSpace(strings.Trim(strings.TrimSpace(t), ".\"'`"))
		if t == "" {
			continue
		}
		tags = append(tags, t)
	}
	return tags
}

// RateLimited spaces out calls to l to at most rps per second.
func RateLimited(l Labeler, rps float64, burst int) Labeler {
	if rps <= 0 {
		return l
	}
	return &rateLimited{next: l, lim: rate.NewLimiter(rate.Limit(rps), max(burst, 1))}
}

type rateLimited struct {
	next Labeler
	lim  *rate.Limiter
}

func (r *rateLimited) DetectLabels(ctx context.Context, jpeg []byte) ([]string, error) {
	if err := r.lim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DetectLabels(ctx, jpeg)
}

// Limited keeps at most n labels from l. n <= 0 keeps everything.
func Limited(l Labeler, n int) Labeler {
	if n <= 0 {
		return l
	}
	return &limited{next: l, n: n}
}

type limited struct {
	next Labeler
	n    int
}

func (l *limited) DetectLabels(ctx context.Context, jpeg []byte) ([]string, error) {
	labels, err := l.next.DetectLabels(ctx, jpeg)
	if len(labels) > l.n {
		klog.V(1).Infof("keeping %d of %d labels", l.n, len(labels))
		labels = labels[:l.n]
	}
	return labels, err
}

// NewLabeler builds the labeler selected by c.
func NewLabeler(ctx context.Context, c *Config) (Labeler, error) {
	var l Labeler
	var err error

	switch c.Label.Backend {
	case "gemini":
		l, err = NewGeminiLabeler(ctx, c.Google.APIKey, c.Label.Model)
	case "vision", "":
		l, err = NewVisionLabeler(ctx, c.Google.APIKey, c.CredentialsPath(), c.Label.MaxLabels)
	default:
		return nil, fmt.Errorf("%w: unknown label backend %q", ErrConfig, c.Label.Backend)
	}
	if err != nil {
		return nil, err
	}
	return RateLimited(Limited(l, c.Label.MaxLabels), c.Label.RequestsPerSecond, 1), nil
}
