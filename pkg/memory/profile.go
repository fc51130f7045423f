package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/kv"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
	"github.com/kaptinlin/jsonrepair"
)

// preferenceSignals gate the extraction LLM call: messages containing
// none of these substrings cannot carry profile information.
var preferenceSignals = []string{
	"我喜欢", "我不喜欢", "我讨厌", "我爱", "我恨",
	"我是", "我在", "我的", "我想", "我希望", "我需要",
	"我今年", "我住在", "我的职业", "我的工作", "我的爱好",
	"我的兴趣", "我的名字", "我叫", "我来自", "我姓",
	"我毕业于", "我的专业", "我的学历", "我感兴趣", "我的城市",
	"我是做", "我是一名", "我的家人", "我的父母",
}

// DefaultProfileTTL is the profile record lifetime, refreshed on write.
const DefaultProfileTTL = 7 * 24 * time.Hour

// ProfileService extracts user identity and preference information from
// messages and maintains the per-user profile record. It is the sole
// writer of the profile key.
//
// The profile is deliberately not locked: two concurrent extractions
// may lose one merge, and the next turn re-extracts.
type ProfileService struct {
	store kv.Store
	llm   LLM
	ttl   time.Duration
	log   *slog.Logger

	now func() time.Time
}

// NewProfileService creates the profile service.
func NewProfileService(store kv.Store, llm LLM, log *slog.Logger) *ProfileService {
	if log == nil {
		log = slog.Default()
	}
	return &ProfileService{
		store: store,
		llm:   llm,
		ttl:   DefaultProfileTTL,
		log:   log,
		now:   time.Now,
	}
}

// SetTTL overrides the profile record lifetime.
func (ps *ProfileService) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		ps.ttl = ttl
	}
}

// Extract mines a user message for profile information and merges the
// result into the stored record. Returns true if anything was merged.
func (ps *ProfileService) Extract(ctx context.Context, userID, message string) (bool, error) {
	if !hasPreferenceSignal(message) {
		return false, nil
	}

	extracted, err := ps.extractWithLLM(ctx, message)
	if err != nil {
		return false, fmt.Errorf("memory: profile extraction: %w", err)
	}
	if extracted == nil || extracted.Empty() {
		return false, nil
	}

	profile, err := ps.Get(ctx, userID)
	if err != nil {
		profile = &Profile{}
	}
	mergeProfile(profile, extracted)
	profile.LastUpdated = ps.now().Format(time.RFC3339)

	if err := ps.put(ctx, userID, profile); err != nil {
		return false, err
	}
	ps.log.Info("profile updated", "user", userID)
	return true, nil
}

// Get reads the stored profile. A missing record yields an empty
// profile, not an error.
func (ps *ProfileService) Get(ctx context.Context, userID string) (*Profile, error) {
	raw, err := ps.store.Get(ctx, profileKey(userID))
	if err != nil {
		if err == kv.ErrNotFound {
			return &Profile{}, nil
		}
		return nil, fmt.Errorf("memory: read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("memory: decode profile: %w", err)
	}
	return &p, nil
}

func (ps *ProfileService) put(ctx context.Context, userID string, p *Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("memory: encode profile: %w", err)
	}
	if err := ps.store.SetEx(ctx, profileKey(userID), ps.ttl, string(raw)); err != nil {
		return fmt.Errorf("memory: write profile: %w", err)
	}
	return nil
}

// BuildContextualPrompt formats the stored profile into a preamble that
// lets the model address the user personally. Returns "" for an empty
// profile.
func (ps *ProfileService) BuildContextualPrompt(ctx context.Context, userID string) string {
	profile, err := ps.Get(ctx, userID)
	if err != nil || profile.Empty() {
		return ""
	}

	parts := []string{"以下是关于用户的一些已知信息，请在对话中自然地利用这些信息，让用户感受到你认识他们："}

	var identity []string
	if profile.Identity.Name != "" {
		identity = append(identity, "姓名："+profile.Identity.Name)
	}
	if profile.Identity.Age != "" {
		identity = append(identity, "年龄："+profile.Identity.Age+"岁")
	}
	if profile.Identity.Location != "" {
		identity = append(identity, "居住地："+profile.Identity.Location)
	}
	if profile.Identity.Job != "" {
		identity = append(identity, "职业："+profile.Identity.Job)
	}
	if profile.Identity.Education != "" {
		identity = append(identity, "学历："+profile.Identity.Education)
	}
	if len(identity) > 0 {
		parts = append(parts, "【用户身份】")
		parts = append(parts, identity...)
	}
	if len(profile.Preferences) > 0 {
		parts = append(parts, "【用户偏好】"+strings.Join(profile.Preferences, ", "))
	}
	if len(profile.Interests) > 0 {
		parts = append(parts, "【用户兴趣】"+strings.Join(profile.Interests, ", "))
	}
	if profile.CommunicationStyle != "" {
		parts = append(parts, "【沟通风格】"+profile.CommunicationStyle)
	}
	switch {
	case profile.Confidence > 0.8:
		parts = append(parts, "【信息可信度】高")
	case profile.Confidence > 0.6:
		parts = append(parts, "【信息可信度】中等")
	case profile.Confidence > 0:
		parts = append(parts, "【信息可信度】较低")
	}
	parts = append(parts, "\n请在回答时，结合上述信息，提供更个性化和连贯的回复。")

	return strings.Join(parts, "\n")
}

// Insights summarizes how well a profile is populated.
type Insights struct {
	Completeness        float64 `json:"profile_completeness"`
	PreferenceDiversity float64 `json:"preference_diversity"`
	CommunicationStyle  string  `json:"communication_style"`
	LastUpdated         string  `json:"last_updated"`
}

// Insights computes completeness and diversity metrics for a user.
func (ps *ProfileService) Insights(ctx context.Context, userID string) (*Insights, error) {
	p, err := ps.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	style := p.CommunicationStyle
	if style == "" {
		style = "未知"
	}
	updated := p.LastUpdated
	if updated == "" {
		updated = "未知"
	}
	return &Insights{
		Completeness:        profileCompleteness(p),
		PreferenceDiversity: preferenceDiversity(p),
		CommunicationStyle:  style,
		LastUpdated:         updated,
	}, nil
}

func profileCompleteness(p *Profile) float64 {
	total, filled := 7, 0
	for _, f := range []string{p.Identity.Name, p.Identity.Age, p.Identity.Location, p.Identity.Job, p.Identity.Education} {
		if f != "" {
			filled++
		}
	}
	if len(p.Preferences) > 0 {
		filled++
	}
	if len(p.Interests) > 0 {
		filled++
	}
	return float64(filled) / float64(total)
}

func preferenceDiversity(p *Profile) float64 {
	switch n := len(p.Preferences) + len(p.Interests); {
	case n == 0:
		return 0
	case n <= 3:
		return 0.3
	case n <= 6:
		return 0.6
	default:
		return 1.0
	}
}

// extractWithLLM asks the model for a JSON object of profile fields.
func (ps *ProfileService) extractWithLLM(ctx context.Context, message string) (*Profile, error) {
	prompt := fmt.Sprintf(`请从以下用户消息中提取用户偏好、习惯、兴趣、身份信息等。

要求：
1. 如果消息中包含"我是"、"我叫"、"我的名字是"等，请提取姓名
2. 如果包含"我今年"、"我的年龄是"等，请提取年龄
3. 如果包含"我住在"、"我来自"等，请提取居住地
4. 如果包含"我的职业是"、"我是一名"、"我是做"等，请提取职业
5. 如果包含"我喜欢"、"我爱"、"我讨厌"、"我不喜欢"等，请提取偏好
6. 如果包含"我的爱好是"、"我感兴趣"等，请提取兴趣
7. 分析用户的沟通风格（正式/随意/直接/详细）
8. 评估信息的可信度（0-1）

请以JSON格式返回提取到的信息，例如：
{
    "identity": {"name": "张三", "age": "25", "location": "北京", "job": "软件工程师", "education": "本科"},
    "preferences": ["喜欢咖啡", "不喜欢甜饮料"],
    "interests": ["编程", "电影"],
    "communication_style": "友好、直接",
    "confidence": 0.9
}

如果未提取到任何信息，请返回空JSON对象 {}。

用户消息: "%s"

请生成提取结果：`, message)

	out, err := ps.llm.Generate(ctx, []qwen.Message{
		{Role: qwen.RoleUser, Content: prompt},
	}, &qwen.Params{Temperature: 0.3})
	if err != nil {
		return nil, err
	}

	raw := firstJSONObject(out)
	if raw == "" {
		return nil, nil
	}
	// Model output is frequently almost-JSON; repair before parsing.
	if fixed, err := jsonrepair.JSONRepair(raw); err == nil {
		raw = fixed
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		ps.log.Warn("unparseable extraction output", "err", err)
		return nil, nil
	}
	return &p, nil
}

// mergeProfile merges extracted fields into dst: identity fields are
// last-writer-wins, list fields append-dedup, style and confidence
// overwrite when present.
func mergeProfile(dst, src *Profile) {
	if src.Identity.Name != "" {
		dst.Identity.Name = src.Identity.Name
	}
	if src.Identity.Age != "" {
		dst.Identity.Age = src.Identity.Age
	}
	if src.Identity.Location != "" {
		dst.Identity.Location = src.Identity.Location
	}
	if src.Identity.Job != "" {
		dst.Identity.Job = src.Identity.Job
	}
	if src.Identity.Education != "" {
		dst.Identity.Education = src.Identity.Education
	}
	dst.Preferences = appendDedup(dst.Preferences, src.Preferences)
	dst.Interests = appendDedup(dst.Interests, src.Interests)
	if src.CommunicationStyle != "" {
		dst.CommunicationStyle = src.CommunicationStyle
	}
	if src.Confidence > 0 {
		dst.Confidence = src.Confidence
	}
	for k, v := range src.Extras {
		if dst.Extras == nil {
			dst.Extras = make(map[string]string)
		}
		dst.Extras[k] = v
	}
}

// appendDedup appends items not already present, preserving order.
func appendDedup(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range src {
		if _, ok := seen[s]; !ok {
			dst = append(dst, s)
			seen[s] = struct{}{}
		}
	}
	return dst
}

func hasPreferenceSignal(message string) bool {
	for _, k := range preferenceSignals {
		if strings.Contains(message, k) {
			return true
		}
	}
	return false
}

// firstJSONObject returns the first balanced {...} substring of s.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
