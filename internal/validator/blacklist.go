package validator

import (
	"fmt"
	"regexp"
)

// dangerousFunctionPatterns 危险函数黑名单
// 延时、文件读写、大对象导入导出、跨库链接等带外信道与拒绝服务向量，
// 与行级租户过滤无关，出现即无条件拒绝。进程级只读，启动时编译一次
var dangerousFunctionPatterns = []struct {
	pattern     *regexp.Regexp
	description string
}{
	// 延时函数（时间盲注/拒绝服务）
	{regexp.MustCompile(`(?i)\bpg_sleep\s*\(`), "pg_sleep延时函数"},
	{regexp.MustCompile(`(?i)\bsleep\s*\(`), "sleep延时函数"},
	{regexp.MustCompile(`(?i)\bbenchmark\s*\(`), "benchmark延时函数"},
	{regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`), "waitfor delay延时语句"},

	// 文件系统访问（数据渗出）
	{regexp.MustCompile(`(?i)\bload_file\s*\(`), "load_file文件读取"},
	{regexp.MustCompile(`(?i)\bpg_read_file\s*\(`), "pg_read_file文件读取"},
	{regexp.MustCompile(`(?i)\bpg_read_binary_file\s*\(`), "pg_read_binary_file文件读取"},
	{regexp.MustCompile(`(?i)\bpg_ls_dir\s*\(`), "pg_ls_dir目录列举"},
	{regexp.MustCompile(`(?i)\binto\s+(outfile|dumpfile)\b`), "into outfile/dumpfile文件写入"},

	// 大对象导入导出
	{regexp.MustCompile(`(?i)\blo_import\s*\(`), "lo_import大对象导入"},
	{regexp.MustCompile(`(?i)\blo_export\s*\(`), "lo_export大对象导出"},

	// 批量拷贝与跨库链接
	{regexp.MustCompile(`(?i)\bcopy\s+\w+\s+(from|to)\b`), "copy批量拷贝"},
	{regexp.MustCompile(`(?i)\bdblink(_connect)?\s*\(`), "dblink跨库链接"},
	{regexp.MustCompile(`(?i)\bopenrowset\s*\(`), "openrowset远程行集"},
	{regexp.MustCompile(`(?i)\bxp_cmdshell\b`), "xp_cmdshell命令执行"},
}

// checkDangerousFunctions 扫描原始SQL文本中的危险函数
// 注意是对原文扫描而非语法树：藏在字符串字面量里的危险函数同样命中，
// 即便租户过滤完全正确也直接拒绝
func (v *TenantValidator) checkDangerousFunctions(sql string, result *AstValidationResult) {
	for _, entry := range dangerousFunctionPatterns {
		if entry.pattern.MatchString(sql) {
			result.addError(fmt.Sprintf("检测到危险函数: %s", entry.description), ViolationDangerousOperation)
			result.Details.SuspiciousPatterns = append(result.Details.SuspiciousPatterns, entry.description)
		}
	}
}
