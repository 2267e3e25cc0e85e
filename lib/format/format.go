/*package format expands the miniature template language used for output file
names, e.g.

	Snapshot = "out/snap.{%04d,step}.{%d,rank}.wsnap"

A template is fixed text plus variables written as {verb,rule}. "verb" is a
printf() verb for an integer (e.g. %04d) and "rule" names the value the
variable takes when the file is written:

	"step" - the number of completed steps.
	"rank" - the rank writing the file.

The "rank" variable keeps multi-rank runs from clobbering each other's files;
the "step" variable keeps successive outputs of one run apart. Templates with
no variables are legal and expand to themselves.*/
package format

import (
	"fmt"
	"strings"
)

// Expand substitutes every variable in template. Malformed templates are
// reported through an error so the caller can surface them before any file
// is created.
func Expand(template string, step, rank int) (string, error) {
	out := &strings.Builder{}
	s := template

	for {
		i := strings.IndexByte(s, '{')
		if i == -1 {
			break
		}
		j := strings.IndexByte(s[i:], '}')
		if j == -1 {
			return "", fmt.Errorf("The file format string '%s' has a '{' "+
				"with no matching '}'.", template)
		}

		out.WriteString(s[:i])
		expanded, err := expandVariable(s[i+1:i+j], step, rank)
		if err != nil {
			return "", fmt.Errorf("The file format string '%s' is invalid: "+
				"%v", template, err)
		}
		out.WriteString(expanded)
		s = s[i+j+1:]
	}

	if strings.IndexByte(s, '}') != -1 {
		return "", fmt.Errorf("The file format string '%s' has a '}' with "+
			"no matching '{'.", template)
	}
	out.WriteString(s)
	return out.String(), nil
}

// Check returns a descriptive error if template cannot be expanded. It lets
// the startup path reject bad templates before the run does any work.
func Check(template string) error {
	_, err := Expand(template, 0, 0)
	return err
}

// expandVariable formats the body of one {verb,rule} variable, with the
// braces already stripped.
func expandVariable(body string, step, rank int) (string, error) {
	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return "", fmt.Errorf("the variable '{%s}' should contain a "+
			"printf() verb and a rule separated by a single comma.", body)
	}
	verb := strings.Trim(parts[0], " ")
	rule := strings.Trim(parts[1], " ")

	if err := checkVerb(verb); err != nil {
		return "", err
	}

	switch rule {
	case "step":
		return fmt.Sprintf(verb, step), nil
	case "rank":
		return fmt.Sprintf(verb, rank), nil
	}
	return "", fmt.Errorf("the rule '%s' is not recognised. Only 'step' "+
		"and 'rank' are valid.", rule)
}

// checkVerb accepts exactly the printf() verbs that format a single integer:
// a '%', optional flags and width digits, and a final 'd'.
func checkVerb(verb string) error {
	if len(verb) < 2 || verb[0] != '%' || verb[len(verb)-1] != 'd' {
		return fmt.Errorf("the verb '%s' is not an integer printf() verb "+
			"like '%%d' or '%%04d'.", verb)
	}
	for _, c := range verb[1 : len(verb)-1] {
		if (c < '0' || c > '9') && c != '-' && c != '+' && c != ' ' {
			return fmt.Errorf("the verb '%s' contains '%c', which is not "+
				"valid in an integer printf() verb.", verb, c)
		}
	}
	return nil
}
