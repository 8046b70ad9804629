// Package guard 提示词注入防护
// 在用户消息送达LLM之前识别覆盖指令、套取提示词、逃逸上下文等对抗性输入
package guard

import "regexp"

// AttackCategory 攻击类别标签
type AttackCategory string

const (
	CategoryInstructionOverride  AttackCategory = "instruction_override"  // 指令覆盖
	CategoryPromptRevelation     AttackCategory = "prompt_revelation"     // 提示词套取
	CategoryRoleManipulation     AttackCategory = "role_manipulation"     // 角色操纵
	CategoryCodeExecution        AttackCategory = "code_execution"        // 代码执行
	CategorySchemaDiscovery      AttackCategory = "schema_discovery"      // 库表结构探测
	CategoryContextEscape        AttackCategory = "context_escape"        // 上下文逃逸
	CategoryHypotheticalBypass   AttackCategory = "hypothetical_bypass"   // 假设性绕过
	CategoryPermissionEscalation AttackCategory = "permission_escalation" // 权限提升
	CategoryRestrictionBypass    AttackCategory = "restriction_bypass"    // 限制绕过
)

// Severity 模式严重等级
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// InjectionPattern 注入攻击模式
// 语料库进程级只读，启动时编译一次，请求期间绝不修改
type InjectionPattern struct {
	Pattern     *regexp.Regexp // 编译后的文本模式
	Category    AttackCategory // 攻击类别
	Severity    Severity       // 严重等级
	RiskScore   int            // 风险贡献分 (0-100)
	Description string         // 人类可读描述
}

// injectionCorpus 静态模式语料库
// CRITICAL级模式的单独风险分即达到CRITICAL置信阈值(90)，
// 保证命中任一CRITICAL模式的消息必然被拦截
var injectionCorpus = []InjectionPattern{
	// 指令覆盖
	{
		Pattern:     regexp.MustCompile(`(?i)(ignore|disregard|forget|skip|bypass|override)\s+(all\s+)?(previous|above|prior|earlier|system)\s+(instructions?|rules?|prompts?|context|directives?)`),
		Category:    CategoryInstructionOverride,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "要求忽略或覆盖先前指令",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(忽略|无视|忘记|跳过|绕过)(之前|以上|先前|系统)的?(指令|规则|提示|设定)`),
		Category:    CategoryInstructionOverride,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "要求忽略或覆盖先前指令(中文)",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`),
		Category:    CategoryInstructionOverride,
		Severity:    SeverityHigh,
		RiskScore:   75,
		Description: "伪装下发新指令",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)from\s+now\s+on\s+(you|your)\b`),
		Category:    CategoryInstructionOverride,
		Severity:    SeverityMedium,
		RiskScore:   45,
		Description: "尝试永久性改变行为",
	},

	// 提示词套取
	{
		Pattern:     regexp.MustCompile(`(?i)(show|reveal|display|output|print|repeat|recite|echo)\s+(me\s+)?(all\s+)?(your|the)\s+(system\s+)?(instructions?|prompts?|rules?|context|configuration)`),
		Category:    CategoryPromptRevelation,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "要求披露系统提示词",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)what\s+(are|were)\s+(your|the)\s+(original\s+|initial\s+)?(instructions?|prompts?|rules?)`),
		Category:    CategoryPromptRevelation,
		Severity:    SeverityHigh,
		RiskScore:   75,
		Description: "询问原始指令内容",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(输出|显示|重复|告诉我)(你的)?(系统)?(提示词|指令|设定|规则)`),
		Category:    CategoryPromptRevelation,
		Severity:    SeverityHigh,
		RiskScore:   75,
		Description: "要求披露系统提示词(中文)",
	},

	// 角色操纵
	{
		Pattern:     regexp.MustCompile(`(?i)you\s+are\s+(now|actually|really)\s+`),
		Category:    CategoryRoleManipulation,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "重新定义助手身份",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(pretend|imagine)\s+(to\s+be|you('re|\s+are))\s+`),
		Category:    CategoryRoleManipulation,
		Severity:    SeverityMedium,
		RiskScore:   45,
		Description: "要求扮演其他角色",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)act\s+(as|like)\s+(a|an|the)?\s*(dba|admin|root|superuser|developer)`),
		Category:    CategoryRoleManipulation,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "要求扮演特权角色",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\bDAN\b|do\s+anything\s+now`),
		Category:    CategoryRoleManipulation,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "DAN类越狱人格",
	},

	// 代码执行
	{
		Pattern:     regexp.MustCompile(`(?i)(execute|eval|exec|run)\s*\(`),
		Category:    CategoryCodeExecution,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "内嵌代码执行调用",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(os\.system|subprocess\.(call|run|popen)|import\s+(os|sys|subprocess))`),
		Category:    CategoryCodeExecution,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "内嵌系统命令调用",
	},
	{
		Pattern:     regexp.MustCompile("(?i)```\\s*(python|bash|sh|javascript)"),
		Category:    CategoryCodeExecution,
		Severity:    SeverityLow,
		RiskScore:   20,
		Description: "消息中携带可执行代码块",
	},

	// 库表结构探测
	{
		Pattern:     regexp.MustCompile(`(?i)(list|show|dump|enumerate)\s+(all\s+)?(tables?|schemas?|databases?|columns?)\b`),
		Category:    CategorySchemaDiscovery,
		Severity:    SeverityMedium,
		RiskScore:   40,
		Description: "探测数据库结构",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)information_schema|pg_catalog|pg_tables|sqlite_master`),
		Category:    CategorySchemaDiscovery,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "引用系统元数据目录",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(other|all)\s+(tenants?'?|venues?'?|customers?'?)\s+(data|records?|rows?|orders?)`),
		Category:    CategorySchemaDiscovery,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "明示请求其他租户数据",
	},

	// 上下文逃逸
	{
		Pattern:     regexp.MustCompile(`(?i)</?(system|assistant|user|human|ai|im_start|im_end)>`),
		Category:    CategoryContextEscape,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "伪造对话角色标记",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)\[/?(system|instructions?|context)\]`),
		Category:    CategoryContextEscape,
		Severity:    SeverityHigh,
		RiskScore:   75,
		Description: "方括号上下文标记",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)###\s*(system|instruction|context|end)`),
		Category:    CategoryContextEscape,
		Severity:    SeverityMedium,
		RiskScore:   45,
		Description: "Markdown分节伪造上下文边界",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)---+\s*(end|stop|ignore)\s*(of\s+)?(instructions?|context|prompt)?`),
		Category:    CategoryContextEscape,
		Severity:    SeverityMedium,
		RiskScore:   45,
		Description: "分隔线伪造上下文结束",
	},

	// 假设性绕过
	{
		Pattern:     regexp.MustCompile(`(?i)(hypothetically|in\s+theory|for\s+(educational|research|academic)\s+purposes?|just\s+(a\s+)?(test|testing))[\s,]+.{0,40}(restriction|limit|rule|filter|tenant|security)`),
		Category:    CategoryHypotheticalBypass,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "以假设或研究名义触碰限制",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)if\s+you\s+(were|could|had\s+no)\s+.{0,30}(restrictions?|limits?|rules?|filters?)`),
		Category:    CategoryHypotheticalBypass,
		Severity:    SeverityMedium,
		RiskScore:   45,
		Description: "假设无限制场景诱导",
	},

	// 权限提升
	{
		Pattern:     regexp.MustCompile(`(?i)(i\s+am|this\s+is)\s+(the\s+)?(admin|administrator|developer|owner|superuser|root)\b`),
		Category:    CategoryPermissionEscalation,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "冒充管理员身份",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(grant|give|enable)\s+(me\s+)?(full\s+|admin\s+|elevated\s+)?(access|privileges?|permissions?)`),
		Category:    CategoryPermissionEscalation,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "索取更高权限",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(maintenance|debug|developer|god)\s+mode`),
		Category:    CategoryPermissionEscalation,
		Severity:    SeverityMedium,
		RiskScore:   45,
		Description: "请求进入特权模式",
	},

	// 限制绕过
	{
		Pattern:     regexp.MustCompile(`(?i)(without|skip|bypass|disable|remove)\s+(the\s+)?(tenant|venue|security|safety)\s*(id\s+)?(filter|check|validation|restriction)s?`),
		Category:    CategoryRestrictionBypass,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "明示绕过租户/安全过滤",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(union\s+(all\s+)?select|or\s+1\s*=\s*1|;\s*(drop|delete|update|insert)\b)`),
		Category:    CategoryRestrictionBypass,
		Severity:    SeverityCritical,
		RiskScore:   90,
		Description: "消息中直接携带SQL注入片段",
	},
	{
		Pattern:     regexp.MustCompile(`(?i)(don'?t|do\s+not|no\s+need\s+to)\s+(add|include|apply)\s+.{0,30}(where|filter|condition|limit)`),
		Category:    CategoryRestrictionBypass,
		Severity:    SeverityHigh,
		RiskScore:   70,
		Description: "要求省略过滤条件",
	},
}

// CorpusPatterns 返回只读模式语料库
// 返回的切片由所有并发调用共享，调用方不得修改
func CorpusPatterns() []InjectionPattern {
	return injectionCorpus
}
