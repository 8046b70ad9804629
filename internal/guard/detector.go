package guard

import (
	"strings"

	"go.uber.org/zap"
)

// ConfidenceLevel 聚合置信等级
type ConfidenceLevel string

const (
	ConfidenceNone     ConfidenceLevel = "NONE"
	ConfidenceLow      ConfidenceLevel = "LOW"
	ConfidenceMedium   ConfidenceLevel = "MEDIUM"
	ConfidenceHigh     ConfidenceLevel = "HIGH"
	ConfidenceCritical ConfidenceLevel = "CRITICAL"
)

// 置信分档阈值与封顶风险分
const (
	maxRiskScore            = 100
	confidenceCriticalScore = 90
	confidenceHighScore     = 70
	confidenceMediumScore   = 50

	// characteristicsBlockThreshold 特征分独立拦截阈值
	characteristicsBlockThreshold = 60
	// combinedSaturation 双信号合计饱和阈值
	// 两个信号单独都不足以拦截、但合计饱和时同样拦截，
	// 用于捕获措辞陌生但结构上明显对抗的新型攻击
	combinedSaturation = 100
)

// RedactionMarker 消毒替换标记
const RedactionMarker = "[已过滤]"

// InjectionDetectionResult 单条消息的检测结果
// 每次检测独立构造且不可变，调用方处理后即丢弃
type InjectionDetectionResult struct {
	IsInjection bool             `json:"is_injection"`     // 是否判定为注入
	Confidence  ConfidenceLevel  `json:"confidence"`       // 聚合置信等级
	Categories  []AttackCategory `json:"categories"`       // 去重后的命中类别
	RiskScore   int              `json:"risk_score"`       // 封顶后的风险分 (0-100)
	Reason      string           `json:"reason,omitempty"` // 人类可读原因
}

// PromptGuard 提示词注入防护器
// 纯函数式：仅持有只读语料库引用和日志器，可无限并发调用
type PromptGuard struct {
	patterns []InjectionPattern
	logger   *zap.Logger
}

// NewPromptGuard 创建提示词防护器
func NewPromptGuard(logger *zap.Logger) *PromptGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromptGuard{
		patterns: CorpusPatterns(),
		logger:   logger,
	}
}

// Detect 对消息运行全部语料库模式
// 不做短路：所有模式都会评估，聚合分反映完整的对抗信号强度
// 而不只是首个命中。永不报错，总是返回结果
func (g *PromptGuard) Detect(message string) *InjectionDetectionResult {
	result := &InjectionDetectionResult{
		Confidence: ConfidenceNone,
		Categories: []AttackCategory{},
	}

	total := 0
	seenCategories := make(map[AttackCategory]bool)
	var reasons []string

	for _, p := range g.patterns {
		if !p.Pattern.MatchString(message) {
			continue
		}
		total += p.RiskScore
		if !seenCategories[p.Category] {
			seenCategories[p.Category] = true
			result.Categories = append(result.Categories, p.Category)
		}
		reasons = append(reasons, p.Description)

		// 每次命中都记录审计日志，含截断的消息摘录
		g.logger.Warn("检测到提示词注入模式",
			zap.String("category", string(p.Category)),
			zap.String("severity", string(p.Severity)),
			zap.Int("risk_score", p.RiskScore),
			zap.String("description", p.Description),
			zap.String("message_excerpt", truncateMessage(message, 80)))
	}

	if total > maxRiskScore {
		total = maxRiskScore
	}
	result.RiskScore = total
	result.IsInjection = total > 0
	result.Confidence = confidenceForScore(total)
	if len(reasons) > 0 {
		result.Reason = strings.Join(reasons, "; ")
	}

	return result
}

// confidenceForScore 由封顶后的风险分推导置信等级
func confidenceForScore(score int) ConfidenceLevel {
	switch {
	case score >= confidenceCriticalScore:
		return ConfidenceCritical
	case score >= confidenceHighScore:
		return ConfidenceHigh
	case score >= confidenceMediumScore:
		return ConfidenceMedium
	case score > 0:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// ShouldBlock 拦截策略：HIGH或CRITICAL置信即拦截
// 与Detect分离的纯函数，调用方可自行决定监控期只记录、生产期拦截
func ShouldBlock(result *InjectionDetectionResult) bool {
	if result == nil {
		return false
	}
	return result.Confidence == ConfidenceHigh || result.Confidence == ConfidenceCritical
}

// Sanitize 尽力而为的消毒：将HIGH/CRITICAL模式命中的文本段替换为标记
// 只用于降级运行模式，不保证清除全部对抗意图，绝不能作为唯一安全边界
func (g *PromptGuard) Sanitize(message string) string {
	sanitized := message
	for _, p := range g.patterns {
		if p.Severity != SeverityHigh && p.Severity != SeverityCritical {
			continue
		}
		sanitized = p.Pattern.ReplaceAllString(sanitized, RedactionMarker)
	}
	return sanitized
}

// ComprehensiveResult 综合检查结果
type ComprehensiveResult struct {
	ShouldBlock     bool                       `json:"should_block"`
	Detection       *InjectionDetectionResult  `json:"detection"`
	Characteristics *SuspiciousCharacteristics `json:"characteristics"`
}

// ComprehensiveCheck 双信号综合检查
// 模式匹配对改写措辞脆弱，特征分析对多语言/技术类正常消息偏噪，
// 两路信号按阈值取并集换取纵深防御，无需训练分类器
func (g *PromptGuard) ComprehensiveCheck(message string) *ComprehensiveResult {
	detection := g.Detect(message)
	characteristics := g.AnalyzeSuspiciousCharacteristics(message)

	block := ShouldBlock(detection) ||
		characteristics.Score >= characteristicsBlockThreshold ||
		detection.RiskScore+characteristics.Score >= combinedSaturation

	if block {
		g.logger.Warn("综合检查判定拦截",
			zap.String("confidence", string(detection.Confidence)),
			zap.Int("pattern_score", detection.RiskScore),
			zap.Int("characteristics_score", characteristics.Score),
			zap.Strings("anomalies", characteristics.Anomalies))
	}

	return &ComprehensiveResult{
		ShouldBlock:     block,
		Detection:       detection,
		Characteristics: characteristics,
	}
}

// truncateMessage 截断消息用于日志，避免完整对抗载荷进入日志系统
func truncateMessage(message string, max int) string {
	runes := []rune(message)
	if len(runes) <= max {
		return message
	}
	return string(runes[:max]) + "..."
}
