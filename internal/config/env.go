// 环境变量配置加载器
// 支持从.env文件加载配置

package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadEnv 从.env文件加载环境变量
// 已存在的系统环境变量优先，不会被文件中的值覆盖
func LoadEnv(filepath string) error {
	file, err := os.Open(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Warning: %s file not found, using system environment variables\n", filepath)
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", filepath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			fmt.Printf("Warning: invalid line %d in %s: %s\n", lineNum, filepath, line)
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		// 去掉成对的引号
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", filepath, err)
	}

	return nil
}
