package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// 官方页面上常见的日期写法：2024年3月5日 / 2024-3-5 / 2024/03/05 / 2024.3.5
var ymdPattern = regexp.MustCompile(`(\d{4})\s*[年/\-.]\s*(\d{1,2})\s*[月/\-.]\s*(\d{1,2})\s*日?`)

// 令和表记：令和6年3月5日（令和元年 = 2019）
var reiwaPattern = regexp.MustCompile(`令和\s*(元|\d{1,2})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日`)

// reiwaBaseYear 令和元年の西暦。令和 N 年 = 2018 + N
const reiwaBaseYear = 2018

// RSS の pubDate で使われる形式
var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123}

// NormalizeDate 把日期原文规范成 YYYY-MM-DD，解析不出或数值非法时返回空串
// 全角数字（２０２４年 等）先折叠成半角再匹配
func NormalizeDate(raw string) string {
	s := width.Narrow.String(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if m := reiwaPattern.FindStringSubmatch(s); m != nil {
		year := reiwaBaseYear + 1
		if m[1] != "元" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return ""
			}
			year = reiwaBaseYear + n
		}
		return formatYMD(year, atoi(m[2]), atoi(m[3]))
	}

	if m := ymdPattern.FindStringSubmatch(s); m != nil {
		return formatYMD(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// DisplayDate 诊断输出用：能规范化就用规范化结果，否则原样返回
func DisplayDate(raw string) string {
	if iso := NormalizeDate(raw); iso != "" {
		return iso
	}
	return raw
}

// FindDate 在一段文本里找日期形态的片段，找不到返回空串
// 一个窗口里可能落进相邻行的日期，取最后一个命中（离锚点最近的那条）
func FindDate(text string) string {
	s := width.Narrow.String(text)
	if ms := reiwaPattern.FindAllString(s, -1); len(ms) > 0 {
		return ms[len(ms)-1]
	}
	if ms := ymdPattern.FindAllString(s, -1); len(ms) > 0 {
		return ms[len(ms)-1]
	}
	return ""
}

func formatYMD(year, month, day int) string {
	if year < 1990 || year > 2100 || month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
