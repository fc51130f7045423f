package memory

import (
	"strings"
	"time"
)

// Keyword lexicons for the importance scorer. Fixed at implementation
// time; tests depend on the exact sets.
var (
	highKeywords   = []string{"重要", "关键", "必须", "紧急", "优先", "核心", "主要", "决定", "选择"}
	mediumKeywords = []string{"需要", "想要", "希望", "计划", "打算", "考虑", "建议", "推荐"}
	lowKeywords    = []string{"可能", "也许", "大概", "或者", "随便", "无所谓"}

	personalKeywords = []string{
		"我的", "我是", "我在", "我会", "我想", "我需要", "我喜欢", "我不喜欢",
		"我讨厌", "我爱", "我恨", "我的名字", "我今年", "我住在", "我的职业",
		"我的工作", "我的爱好", "我的兴趣", "我的家人", "我的朋友", "我叫",
	}

	strongEmotionKeywords   = []string{"非常喜欢", "超级爱", "特别", "极其", "绝对", "完全", "非常讨厌", "超级恨", "绝对不", "完全不能"}
	moderateEmotionKeywords = []string{"喜欢", "爱", "好", "不错", "可以", "讨厌", "不喜欢", "不好", "不行", "不能"}
)

// Intent weights for the importance scorer.
var intentWeights = map[string]float64{
	"search":   0.4,
	"web":      0.4,
	"file":     0.4,
	"code":     0.3,
	"image":    0.3,
	"normal":   0.1,
	"greeting": 0.05,
	"goodbye":  0.05,
}

// ScoreContext is the optional conversational context fed to the scorer.
type ScoreContext struct {
	// TurnCount is the number of turns so far in the conversation.
	TurnCount int

	// UserActivityScore in [0,1], supplied by the caller if tracked.
	UserActivityScore float64
}

// Scorer computes the deterministic importance score of a turn.
// The zero value is not usable; create one with NewScorer.
type Scorer struct {
	// Threshold is the long-term storage cutoff. Default 0.6.
	Threshold float64

	now func() time.Time
}

// NewScorer creates a Scorer with the default threshold.
func NewScorer() *Scorer {
	return &Scorer{Threshold: 0.6, now: time.Now}
}

// Score computes the importance of a (message, response) pair in [0,1].
// It is pure apart from the wall-clock working-hours component.
func (s *Scorer) Score(message, response, intent string, sctx *ScoreContext) float64 {
	total := lengthScore(message, response) +
		intentScore(intent) +
		keywordScore(message, response) +
		personalScore(message) +
		emotionScore(message, response) +
		s.contextScore(sctx)
	return clamp01(total)
}

// ShouldStore reports whether a score clears the long-term threshold.
func (s *Scorer) ShouldStore(score float64) bool {
	return score >= s.Threshold
}

// lengthScore contributes up to 0.25 based on combined length.
func lengthScore(message, response string) float64 {
	n := len([]rune(message)) + len([]rune(response))
	switch {
	case n > 1000:
		return 0.25
	case n > 500:
		return 0.20
	case n > 200:
		return 0.15
	case n > 100:
		return 0.10
	default:
		return 0.05
	}
}

// intentScore contributes up to 0.40.
func intentScore(intent string) float64 {
	if w, ok := intentWeights[intent]; ok {
		return w
	}
	return 0.1
}

// keywordScore contributes up to 0.20, floored at 0.
func keywordScore(message, response string) float64 {
	text := strings.ToLower(message + " " + response)
	score := 0.0
	if n := countContains(text, highKeywords); n > 0 {
		score += min(0.15, float64(n)*0.03)
	}
	if n := countContains(text, mediumKeywords); n > 0 {
		score += min(0.05, float64(n)*0.01)
	}
	if n := countContains(text, lowKeywords); n > 0 {
		score -= min(0.02, float64(n)*0.005)
	}
	return max(0, score)
}

// personalScore contributes up to 0.10 based on personal-claim tokens
// in the user message only.
func personalScore(message string) float64 {
	switch n := countContains(message, personalKeywords); {
	case n >= 3:
		return 0.10
	case n >= 2:
		return 0.07
	case n >= 1:
		return 0.05
	default:
		return 0
	}
}

// emotionScore contributes up to 0.05.
func emotionScore(message, response string) float64 {
	text := strings.ToLower(message + " " + response)
	score := 0.0
	if countContains(text, strongEmotionKeywords) > 0 {
		score += 0.03
	}
	if countContains(text, moderateEmotionKeywords) > 0 {
		score += 0.02
	}
	return min(score, 0.05)
}

// contextScore contributes up to 0.10 from conversation depth, working
// hours, and user activity.
func (s *Scorer) contextScore(sctx *ScoreContext) float64 {
	if sctx == nil {
		return 0
	}
	score := 0.0
	switch {
	case sctx.TurnCount > 10:
		score += 0.03
	case sctx.TurnCount > 5:
		score += 0.02
	case sctx.TurnCount > 2:
		score += 0.01
	}
	if h := s.now().Hour(); h >= 9 && h <= 18 {
		score += 0.02
	}
	switch {
	case sctx.UserActivityScore > 0.8:
		score += 0.03
	case sctx.UserActivityScore > 0.5:
		score += 0.02
	case sctx.UserActivityScore > 0.2:
		score += 0.01
	}
	return min(score, 0.1)
}

// Decay applies time-based decay to a stored importance score. Access
// frequency and the score itself slow the decay.
func (s *Scorer) Decay(score float64, ageDays int, accessCount int) float64 {
	const baseDecayRate = 0.1
	accessCompensation := min(0.2, float64(accessCount)*0.05)
	importanceCompensation := score * 0.1
	factor := max(0, 1-float64(ageDays)*baseDecayRate+accessCompensation+importanceCompensation)
	return max(0, score*factor)
}

// CompressionPriority reports whether a conversation should be
// compressed and how urgently, given its current token estimate.
func CompressionPriority(turnCount, tokenCount, maxTokens int) (bool, float64) {
	if tokenCount <= maxTokens {
		return false, 0
	}
	urgency := min(1, float64(tokenCount-maxTokens)/float64(maxTokens))
	lengthFactor := min(1, float64(turnCount)/20)
	return true, urgency*0.7 + lengthFactor*0.3
}

func countContains(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
