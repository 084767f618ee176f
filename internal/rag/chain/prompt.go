package chain

import (
	"strings"

	"fiqh-rag/internal/rag/schema"
)

// AnswerTemplate is the Maliki fiqh answering instruction. {question} and
// {context} are substituted before the call.
const AnswerTemplate = `أنت خبير في الفقه المالكي.

مهمتك هي الإجابة على الأسئلة المتعلقة بالفقه المالكي. يجب أن تكون جميع إجاباتك باللغة العربية الفصحى حصراً.

في حالة وجود إجابة في النصوص المتوفرة:
- قم بتقديم الإجابة مع ذكر المصدر
- اذكر الدليل إن وجد
- اذكر أقوال العلماء إن وجدت

في حالة عدم وجود إجابة في النصوص المتوفرة:
- قم بالتصريح بوضوح قائلاً: "هذه الإجابة من معرفة النموذج اللغوي وليست من النصوص المتوفرة"
- ثم قدم إجابة بناءً على معرفتك العامة بالمذهب المالكي

ملاحظة: يجب أن تكون جميع الإجابات باللغة العربية فقط.

السؤال: {question}
النصوص المتعلقة بالموضوع: {context}

الإجابة:`

// CondenseTemplate rewrites a follow-up into a standalone question.
const CondenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{chat_history}
Follow Up Input: {question}
Standalone question:`

// FormatHistory renders turns as alternating Human/Assistant lines, each turn
// preceded by a newline.
func FormatHistory(history []schema.Turn) string {
	var b strings.Builder
	for _, t := range history {
		b.WriteString("\nHuman: ")
		b.WriteString(t.Prompt)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Response)
	}
	return b.String()
}

// FormatContext joins chunk texts with a blank line.
func FormatContext(docs []schema.Document) string {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return strings.Join(texts, "\n\n")
}

func answerPrompt(question, context string) string {
	return strings.NewReplacer("{question}", question, "{context}", context).Replace(AnswerTemplate)
}

func condensePrompt(question string, history []schema.Turn) string {
	return strings.NewReplacer("{chat_history}", FormatHistory(history), "{question}", question).Replace(CondenseTemplate)
}
