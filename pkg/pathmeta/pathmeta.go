// Package pathmeta 从文档路径中提取财报期信息，例如 "Concalls/TCS/TCS_jun23.pdf" -> 2023-06。
package pathmeta

import (
	"fmt"
	"regexp"
	"strings"
)

var periodPattern = regexp.MustCompile(`(?i)([a-z]{3})(\d{2})`)

var months = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// Period 是路径中解析出的年月。
type Period struct {
	Year  int
	Month int
}

// String 返回 YYYY-MM 格式。
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PeriodFromPath 返回路径中第一个合法的 "<月份缩写><两位年份>" 片段。
func PeriodFromPath(path string) (Period, bool) {
	for _, m := range periodPattern.FindAllStringSubmatch(path, -1) {
		month, ok := months[strings.ToLower(m[1])]
		if !ok {
			continue
		}
		var yy int
		if _, err := fmt.Sscanf(m[2], "%d", &yy); err != nil {
			continue
		}
		return Period{Year: 2000 + yy, Month: month}, true
	}
	return Period{}, false
}
