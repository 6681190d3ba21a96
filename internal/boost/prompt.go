package boost

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultTemplate is used when no wrapper template is configured.
const DefaultTemplate = `You are a boost model assisting an auxiliary model. Your response MUST follow ONE of these three formats:

FORMAT 1 - FINAL RESPONSE (when no tools needed):
SUMMARY:
[Provide the final answer directly without using auxiliary models]

FORMAT 2 - GUIDANCE FOR AUXILIARY MODEL (when tools needed):
ANALYSIS:
[Reasoning and understanding of the request context (trace the context, uncertainties, and potential solution paths sequentially, refining thoughts while keeping continuity)]

GUIDANCE:
[Instructions for the auxiliary model's tasks (include which tools to call and what operations to perform, and the content of the operations should be detailed)]

FORMAT 3 - OTHER (any other response will trigger a loop retry):
[Any response that doesn't match FORMAT 1 or 2]

---
Current ReAct Loop: {loop_count}
Previous Attempts: {previous_attempts}

User Request: {user_request}

Available Tools:
{tools_text}`

// NoToolsText is rendered in place of the tool list when there are no tools.
const NoToolsText = "No tools available"

// BuildPrompt renders template with the loop context. A blank template falls
// back to DefaultTemplate.
func BuildPrompt(template, userRequest string, tools []byte, iteration int, priorAttempts []string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}

	attempts := "None"
	if len(priorAttempts) > 0 {
		lines := make([]string, len(priorAttempts))
		for i, a := range priorAttempts {
			lines[i] = "- " + a
		}
		attempts = strings.Join(lines, "\n")
	}

	r := strings.NewReplacer(
		"{loop_count}", strconv.Itoa(iteration),
		"{previous_attempts}", attempts,
		"{user_request}", userRequest,
		"{tools_text}", FormatTools(tools),
	)
	return r.Replace(template)
}

// FormatTools renders a JSON tool array as one bullet per tool. Both the
// chat-completions shape ({"type":"function","function":{...}}) and the
// messages shape ({"name","description","input_schema"}) are accepted.
func FormatTools(tools []byte) string {
	arr := gjson.ParseBytes(tools)
	if !arr.IsArray() || len(arr.Array()) == 0 {
		return NoToolsText
	}

	var b strings.Builder
	first := true
	arr.ForEach(func(_, tool gjson.Result) bool {
		name, desc, schema := toolFields(tool)
		if !first {
			b.WriteByte('\n')
		}
		first = false

		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(desc)
		if schema.IsObject() {
			b.WriteString(". Parameters: ")
			b.WriteString(formatParameters(schema))
		}
		return true
	})
	return b.String()
}

func toolFields(tool gjson.Result) (name, desc string, schema gjson.Result) {
	if fn := tool.Get("function"); fn.IsObject() {
		tool = fn
		schema = fn.Get("parameters")
	} else {
		schema = tool.Get("input_schema")
	}
	name = tool.Get("name").String()
	if name == "" {
		name = "unknown"
	}
	desc = tool.Get("description").String()
	if desc == "" {
		desc = "No description"
	}
	return name, desc, schema
}

func formatParameters(schema gjson.Result) string {
	required := make(map[string]bool)
	schema.Get("required").ForEach(func(_, v gjson.Result) bool {
		required[v.String()] = true
		return true
	})

	var params []string
	schema.Get("properties").ForEach(func(key, info gjson.Result) bool {
		typ := info.Get("type").String()
		if typ == "" {
			typ = "string"
		}
		marker := " (optional)"
		if required[key.String()] {
			marker = " (required)"
		}
		params = append(params, "- "+key.String()+": "+typ+marker+" - "+info.Get("description").String())
		return true
	})
	return strings.Join(params, ", ")
}
