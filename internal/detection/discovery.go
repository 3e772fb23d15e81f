package detection

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/tphakala/entityindex/internal/canon"
	"github.com/tphakala/entityindex/internal/conf"
	"github.com/tphakala/entityindex/internal/errors"
	"github.com/tphakala/entityindex/internal/frames"
)

// defaultCaptionScore is used when the captioner reports no score.
const defaultCaptionScore = 0.5

var captionStopwords = toSet(
	"a", "an", "the", "and", "or", "of", "to", "in", "on", "at", "with",
	"for", "from", "by", "as", "is", "are", "was", "were", "this", "that",
	"these", "those", "it", "its", "their", "his", "her", "aerial", "view",
	"photo", "image", "picture", "scene", "background", "front", "back",
	"left", "right", "top", "bottom", "group", "people", "person", "man",
	"woman", "men", "women", "someone", "something", "someone's", "something's",
)

var captionBlocklist = toSet(
	"sky", "water", "sea", "ocean", "cloud", "clouds", "ground", "field",
	"mountain", "mountains", "forest", "trees",
)

var captionNoise = regexp.MustCompile(`[^a-z0-9\s-]`)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Captioner describes a frame in a short sentence. score is in [0,1], or 0
// when the model does not report one.
type Captioner interface {
	Caption(ctx context.Context, path string) (text string, score float64, err error)
}

// ExtractPhrases pulls candidate entity phrases out of a caption: stopwords
// split the caption into chunks, every n-gram up to three words of a chunk
// is a candidate, and noise (short, blocklisted or numeric phrases) is
// dropped. Words are singularized. Longer phrases sort first; at most
// maxPhrases are returned.
func ExtractPhrases(caption string, maxPhrases int) []string {
	text := strings.ToLower(caption)
	text = captionNoise.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "-", " ")

	var chunks [][]string
	var current []string
	for _, token := range strings.Fields(text) {
		// possessive remnant: "carrier's" became "carrier s"
		if token == "s" {
			continue
		}
		if _, stop := captionStopwords[token]; stop {
			if len(current) > 0 {
				chunks = append(chunks, current)
				current = nil
			}
			continue
		}
		current = append(current, token)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	seen := make(map[string]struct{})
	for _, chunk := range chunks {
		for n := 1; n <= min(3, len(chunk)); n++ {
			for i := 0; i+n <= len(chunk); i++ {
				phrase := strings.Join(chunk[i:i+n], " ")
				if len(phrase) < 3 || isDigits(phrase) {
					continue
				}
				if _, blocked := captionBlocklist[phrase]; blocked {
					continue
				}
				normalized := singularWords(phrase)
				if _, blocked := captionBlocklist[normalized]; normalized == "" || blocked {
					continue
				}
				seen[normalized] = struct{}{}
			}
		}
	}

	phrases := make([]string, 0, len(seen))
	for p := range seen {
		phrases = append(phrases, p)
	}
	slices.SortFunc(phrases, func(a, b string) int {
		wa, wb := len(strings.Fields(a)), len(strings.Fields(b))
		if wa != wb {
			return wb - wa
		}
		return strings.Compare(a, b)
	})

	if maxPhrases > 0 && len(phrases) > maxPhrases {
		phrases = phrases[:maxPhrases]
	}
	return phrases
}

func singularWords(phrase string) string {
	words := strings.Fields(phrase)
	for i, w := range words {
		if len(w) > 3 && strings.HasSuffix(w, "s") {
			words[i] = w[:len(w)-1]
		}
	}
	return strings.Join(words, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// DiscoveryDetector proposes labels from a generated caption.
type DiscoveryDetector struct {
	settings  conf.DiscoverySettings
	captioner Captioner
	canon     *canon.Canonicalizer
	allow     map[string]struct{}
	limiter   *rate.Limiter
}

// NewDiscoveryDetector creates a discovery detector. The allowlist is
// compared after canonicalization.
func NewDiscoveryDetector(settings conf.DiscoverySettings, captioner Captioner, c *canon.Canonicalizer) *DiscoveryDetector {
	if c == nil {
		c = canon.New(nil)
	}

	d := &DiscoveryDetector{
		settings:  settings,
		captioner: captioner,
		canon:     c,
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
	if settings.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(settings.RateLimit), 1)
	}
	if len(settings.Allowlist) > 0 {
		d.allow = make(map[string]struct{}, len(settings.Allowlist))
		for _, a := range settings.Allowlist {
			d.allow[c.Canonicalize(a)] = struct{}{}
		}
	}
	return d
}

func (d *DiscoveryDetector) Name() string   { return "discovery" }
func (d *DiscoveryDetector) Source() Source { return SourceDiscovery }

// Detect captions the frame and turns caption phrases into detections.
func (d *DiscoveryDetector) Detect(ctx context.Context, frame frames.Frame) ([]Detection, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	caption, score, err := d.captioner.Caption(ctx, frame.Path)
	if err != nil {
		return nil, err
	}
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return nil, nil
	}
	if score > 0 && score < d.settings.MinScore {
		return nil, nil
	}

	confidence := score
	if confidence <= 0 {
		confidence = defaultCaptionScore
	}
	confidence = round(confidence, 4)

	var dets []Detection
	seen := make(map[string]struct{})
	for _, phrase := range ExtractPhrases(caption, 0) {
		label := d.canon.Canonicalize(phrase)
		if d.allow != nil {
			if _, ok := d.allow[label]; !ok {
				continue
			}
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		dets = append(dets, Detection{
			Label:      label,
			RawLabel:   phrase,
			Confidence: confidence,
			Source:     SourceDiscovery,
		})
		if d.settings.MaxPhrases > 0 && len(dets) == d.settings.MaxPhrases {
			break
		}
	}
	return dets, nil
}

// OpenAICaptioner captions frames with a vision capable chat model.
type OpenAICaptioner struct {
	client *openai.Client
	model  string
	prompt string
}

// NewOpenAICaptioner creates a captioner for model.
func NewOpenAICaptioner(client *openai.Client, model, prompt string) *OpenAICaptioner {
	if prompt == "" {
		prompt = "Describe this image in one short sentence naming the visible objects."
	}
	return &OpenAICaptioner{client: client, model: model, prompt: prompt}
}

// Caption sends the frame inline and asks for token log probabilities;
// the score is the geometric mean token probability.
func (c *OpenAICaptioner) Caption(ctx context.Context, path string) (string, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, errors.FileError(err, path, 0)
	}
	uri := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 60,
		LogProbs:  true,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: c.prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    uri,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
	})
	if err != nil {
		return "", 0, errors.New(fmt.Errorf("caption request failed: %w", err)).
			Category(errors.CategoryDetection).
			Context("model", c.model).
			Timing("caption", time.Since(start)).
			Build()
	}
	if len(resp.Choices) == 0 {
		return "", 0, nil
	}

	choice := resp.Choices[0]
	return choice.Message.Content, captionScore(choice.LogProbs), nil
}

func captionScore(lp *openai.LogProbs) float64 {
	if lp == nil || len(lp.Content) == 0 {
		return 0
	}
	var sum float64
	for _, t := range lp.Content {
		sum += t.LogProb
	}
	return math.Exp(sum / float64(len(lp.Content)))
}
