package classification

import (
	"fmt"
	"strconv"
	"strings"
)

// ClassifiedMessage is the decoded form of one compact line: the caller's
// original id plus the full classification result.
type ClassifiedMessage struct {
	ID            string
	Intents       []Intent
	Domains       []DomainInfo
	IsSpam        bool
	UrgencyScore  int
	Reasoning     string
	// NoneOnlyFlagged is set when the line carried NONE as its only domain.
	// The open question on whether that should resolve to a real domain is
	// left to a human: this just surfaces the fact for manual review rather
	// than guessing.
	NoneOnlyFlagged bool
}

// ParseError records why one line of a batch response failed to parse,
// keyed by the best-effort id extracted from the line's first field.
type ParseError struct {
	ID    string
	Line  string
	Error string
}

// compactLineFieldCount is the strict 7-field shape of one compact line:
// <id>|<intent>|<domains-csv>|<sub-block>|<spam>|<urgency>|<reasoning>
const compactLineFieldCount = 7

// ParseCompactLine decodes one line. Errors returned here are caller's
// responsibility to attach an id to (ParseBatchPartial does this for bulk
// use; this function is also useful standalone for round-trip tests).
func ParseCompactLine(line string) (ClassifiedMessage, error) {
	parts := strings.SplitN(line, "|", compactLineFieldCount)
	if len(parts) != compactLineFieldCount {
		return ClassifiedMessage{}, fmt.Errorf("invalid line format (expected %d parts): %s", compactLineFieldCount, line)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	id, intentRaw, domainsRaw, subcatsRaw, spamRaw, urgencyRaw, reasoning := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5], parts[6]
	if id == "" {
		return ClassifiedMessage{}, fmt.Errorf("missing message id in line: %s", line)
	}

	intentCode, err := parseIntCode(intentRaw)
	if err != nil {
		return ClassifiedMessage{}, err
	}
	intent, ok := intentByCode[intentCode]
	if !ok {
		return ClassifiedMessage{}, fmt.Errorf("unknown intent code: %d", intentCode)
	}

	domainCodes, err := parseCodeList(domainsRaw, "D")
	if err != nil {
		return ClassifiedMessage{}, err
	}
	if len(domainCodes) == 0 {
		domainCodes = []int{noneDomainCode}
	}
	subcatMap, err := parseSubcategoryMap(subcatsRaw)
	if err != nil {
		return ClassifiedMessage{}, err
	}

	noneOnly := false
	hasNone := false
	for _, c := range domainCodes {
		if c == noneDomainCode {
			hasNone = true
			break
		}
	}
	if hasNone {
		if len(domainCodes) > 1 {
			// The LLM sometimes emits NONE alongside real domains; drop NONE
			// in that case rather than failing the line.
			filtered := domainCodes[:0]
			for _, c := range domainCodes {
				if c != noneDomainCode {
					filtered = append(filtered, c)
				}
			}
			domainCodes = filtered
			delete(subcatMap, noneDomainCode)
		} else {
			noneOnly = true
		}
	}

	seen := make(map[int]bool, len(domainCodes))
	for _, c := range domainCodes {
		seen[c] = true
	}
	for c := range subcatMap {
		if !seen[c] {
			return ClassifiedMessage{}, fmt.Errorf("subcategory entries for non-selected domain: %d", c)
		}
	}

	domains := make([]DomainInfo, 0, len(domainCodes))
	for _, code := range domainCodes {
		domain, ok := domainByCode[code]
		if !ok {
			return ClassifiedMessage{}, fmt.Errorf("unknown domain code: %d", code)
		}
		if domain == DomainNone {
			if _, has := subcatMap[code]; has {
				return ClassifiedMessage{}, fmt.Errorf("subcategories not allowed for NONE domain")
			}
		}
		allowed := subcategoryByCode[domain]
		var subcats []string
		for _, subCode := range subcatMap[code] {
			name, ok := allowed[subCode]
			if !ok {
				return ClassifiedMessage{}, fmt.Errorf("unknown subcategory code %d for %s", subCode, domain)
			}
			subcats = append(subcats, name)
		}
		domains = append(domains, DomainInfo{Domain: domain, Subcategories: subcats})
	}

	if spamRaw != "0" && spamRaw != "1" {
		return ClassifiedMessage{}, fmt.Errorf("invalid spam flag: %s", spamRaw)
	}

	urgency, err := parseIntCode(urgencyRaw)
	if err != nil {
		return ClassifiedMessage{}, err
	}
	if urgency < 1 || urgency > 5 {
		return ClassifiedMessage{}, fmt.Errorf("urgency out of range (1..5): %d", urgency)
	}

	return ClassifiedMessage{
		ID:              id,
		Intents:         []Intent{intent},
		Domains:         domains,
		IsSpam:          spamRaw == "1",
		UrgencyScore:    urgency,
		Reasoning:       reasoning,
		NoneOnlyFlagged: noneOnly,
	}, nil
}

// ParseBatchPartial best-effort-parses a multi-line batch response: each
// line either yields a ClassifiedMessage or a ParseError, independently of
// every other line, so one malformed line never fails the whole batch.
func ParseBatchPartial(text string) ([]ClassifiedMessage, []ParseError, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("empty compact output")
	}
	var messages []ClassifiedMessage
	var errs []ParseError
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		msg, err := ParseCompactLine(line)
		if err != nil {
			id := line
			if i := strings.IndexByte(line, '|'); i >= 0 {
				id = strings.TrimSpace(line[:i])
			}
			errs = append(errs, ParseError{ID: id, Line: line, Error: err.Error()})
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 && len(errs) == 0 {
		return nil, nil, fmt.Errorf("no compact lines found")
	}
	return messages, errs, nil
}

// EncodeCompactLine is the inverse of ParseCompactLine, used by tests to
// check round-trip stability and by any caller that needs to re-serialize
// a classification (e.g. fixtures).
func EncodeCompactLine(msg ClassifiedMessage) string {
	intentCode := 6
	for code, v := range intentByCode {
		if len(msg.Intents) > 0 && v == msg.Intents[0] {
			intentCode = code
			break
		}
	}
	domainCodes := make([]string, 0, len(msg.Domains))
	var subBlocks []string
	for _, d := range msg.Domains {
		code := domainCode[d.Domain]
		domainCodes = append(domainCodes, strconv.Itoa(code))
		if len(d.Subcategories) > 0 {
			subCodes := make([]string, 0, len(d.Subcategories))
			for _, name := range d.Subcategories {
				subCodes = append(subCodes, strconv.Itoa(subcategoryCode[d.Domain][name]))
			}
			subBlocks = append(subBlocks, fmt.Sprintf("%d=%s", code, strings.Join(subCodes, ",")))
		}
	}
	if len(domainCodes) == 0 {
		domainCodes = []string{strconv.Itoa(noneDomainCode)}
	}
	spam := "0"
	if msg.IsSpam {
		spam = "1"
	}
	return fmt.Sprintf("%s|%d|%s|%s|%s|%d|%s",
		msg.ID, intentCode, strings.Join(domainCodes, ","), strings.Join(subBlocks, ";"),
		spam, msg.UrgencyScore, msg.Reasoning)
}

func parseIntCode(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid code value: %s", raw)
	}
	return n, nil
}

func parseCodeList(raw, label string) ([]int, error) {
	if raw == "" {
		return nil, nil
	}
	var codes []int
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid %s code: %s", label, item)
		}
		codes = append(codes, n)
	}
	return codes, nil
}

// parseSubcategoryMap decodes the "<domain>=<sub1,sub2>;<domain>=<sub>"
// sub-block into domain-code -> subcategory-codes.
func parseSubcategoryMap(segment string) (map[int][]int, error) {
	out := map[int][]int{}
	if strings.TrimSpace(segment) == "" {
		return out, nil
	}
	var tokens []string
	for _, part := range strings.Split(segment, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for _, item := range strings.Split(part, ",") {
			item = strings.TrimSpace(item)
			if item != "" {
				tokens = append(tokens, item)
			}
		}
	}
	currentDomain := -1
	for _, tok := range tokens {
		if i := strings.IndexByte(tok, '='); i >= 0 {
			domainStr, subStr := strings.TrimSpace(tok[:i]), strings.TrimSpace(tok[i+1:])
			domainCode, err := parseIntCode(domainStr)
			if err != nil {
				return nil, err
			}
			if subStr == "" {
				return nil, fmt.Errorf("invalid subcategory entry: %s", tok)
			}
			currentDomain = domainCode
			codes, err := parseCodeList(subStr, fmt.Sprintf("S%d", domainCode))
			if err != nil {
				return nil, err
			}
			out[domainCode] = append(out[domainCode], codes...)
		} else {
			if currentDomain < 0 {
				return nil, fmt.Errorf("subcategory code without domain: %s", tok)
			}
			codes, err := parseCodeList(tok, fmt.Sprintf("S%d", currentDomain))
			if err != nil {
				return nil, err
			}
			out[currentDomain] = append(out[currentDomain], codes...)
		}
	}
	return out, nil
}
