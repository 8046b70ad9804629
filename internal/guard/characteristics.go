package guard

import (
	"regexp"
	"unicode"

	libinjection "github.com/corazawaf/libinjection-go"
)

// SuspiciousCharacteristics 结构特征分析结果
// 与命名模式语料库完全独立的第二路启发式信号
type SuspiciousCharacteristics struct {
	Score     int      `json:"score"`     // 特征分 (0-100)
	Anomalies []string `json:"anomalies"` // 观测到的异常描述
}

// 各项异常的固定分值
const (
	scoreSpecialCharDensity = 25
	scoreOversizedPayload   = 20
	scoreBase64Run          = 25
	scoreURLEncodedRun      = 20
	scoreMixedScripts       = 15
	scoreMarkupTags         = 25
	scoreSQLiFingerprint    = 30
)

// 载荷长度上限：正常的分析类提问远短于此
const oversizedPayloadLength = 4000

var (
	// base64Run 长base64样片段，常见于编码绕过载荷
	base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{40,}={0,2}`)
	// urlEncodedRun 连续URL编码序列
	urlEncodedRun = regexp.MustCompile(`(%[0-9A-Fa-f]{2}){3,}`)
	// markupTags 类标签标记，正常提问不会携带对话标记
	markupTags = regexp.MustCompile(`(?i)</?[a-z][a-z0-9_]*\s*/?>|\{\{.+?\}\}|\[\[.+?\]\]`)
)

// AnalyzeSuspiciousCharacteristics 结构特征分析
// 不依赖任何命名攻击模式，只看消息的物理形态：
// 字符类密度、长度、编码痕迹、混合文字系统、标签状标记
func (g *PromptGuard) AnalyzeSuspiciousCharacteristics(message string) *SuspiciousCharacteristics {
	sc := &SuspiciousCharacteristics{Anomalies: []string{}}
	if message == "" {
		return sc
	}

	if ratio := specialCharRatio(message); ratio > 0.25 && len([]rune(message)) > 20 {
		sc.add(scoreSpecialCharDensity, "特殊字符密度过高")
	}
	if len(message) > oversizedPayloadLength {
		sc.add(scoreOversizedPayload, "消息长度超出正常范围")
	}
	if base64Run.MatchString(message) {
		sc.add(scoreBase64Run, "包含base64样编码片段")
	}
	if urlEncodedRun.MatchString(message) {
		sc.add(scoreURLEncodedRun, "包含连续URL编码序列")
	}
	if hasMixedScripts(message) {
		sc.add(scoreMixedScripts, "混用多种易混淆文字系统")
	}
	if markupTags.MatchString(message) {
		sc.add(scoreMarkupTags, "包含标签状标记")
	}
	// libinjection指纹：自然语言提问被识别为SQL注入片段本身就是强异常
	if isSQLi, _ := libinjection.IsSQLi(message); isSQLi {
		sc.add(scoreSQLiFingerprint, "命中SQL注入指纹")
	}

	if sc.Score > 100 {
		sc.Score = 100
	}
	return sc
}

func (sc *SuspiciousCharacteristics) add(score int, anomaly string) {
	sc.Score += score
	sc.Anomalies = append(sc.Anomalies, anomaly)
}

// specialCharRatio 非字母数字、非空白、非CJK字符的占比
func specialCharRatio(message string) float64 {
	runes := []rune(message)
	if len(runes) == 0 {
		return 0
	}
	special := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		// 常规标点不计入
		switch r {
		case ',', '.', '?', '!', ':', ';', '\'', '"', '-', '(', ')',
			'，', '。', '？', '！', '：', '；', '、':
			continue
		}
		special++
	}
	return float64(special) / float64(len(runes))
}

// hasMixedScripts 检测易混淆文字系统的混用（同形异义字攻击）
// 只统计Latin/Cyrillic/Greek等存在同形字的文字系统，
// 中文与英文表名混排属于正常分析提问，刻意不计入
func hasMixedScripts(message string) bool {
	var hasLatin, hasCyrillic, hasGreek bool
	for _, r := range message {
		switch {
		case unicode.Is(unicode.Latin, r):
			hasLatin = true
		case unicode.Is(unicode.Cyrillic, r):
			hasCyrillic = true
		case unicode.Is(unicode.Greek, r):
			hasGreek = true
		}
	}
	count := 0
	for _, present := range []bool{hasLatin, hasCyrillic, hasGreek} {
		if present {
			count++
		}
	}
	return count >= 2
}
