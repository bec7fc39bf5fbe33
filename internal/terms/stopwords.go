package terms

// stopwords holds lowercase domain and panel-noise words in English and Korean
// that make poor code search keywords.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {}, "this": {},
	"there": {}, "into": {}, "about": {},
	"review": {}, "reviews": {}, "comment": {}, "comments": {},
	"code": {}, "files": {}, "file": {}, "diff": {}, "repo": {}, "github": {},
	"model": {}, "openai": {}, "please": {}, "help": {},
	"test": {}, "tests": {}, "risk": {}, "risks": {}, "security": {},
	"architecture": {}, "change": {}, "changes": {}, "api": {},
	"explain": {}, "what": {}, "why": {}, "how": {}, "does": {},
	"옵션": {}, "리뷰": {}, "코드": {}, "변경": {}, "파일": {}, "테스트": {},
	"보안": {}, "아키텍처": {}, "요약": {}, "질문": {}, "요청": {},
}

// IsStopword reports whether the lowercase word is excluded from search terms.
func IsStopword(lower string) bool {
	_, ok := stopwords[lower]
	return ok
}
