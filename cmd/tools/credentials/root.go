package main

import (
	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// prompter asks for values that should not end up in shell history.
type prompter interface {
	Password(message string) (string, error)
}

type surveyPrompter struct{}

func (surveyPrompter) Password(message string) (string, error) {
	var result string
	prompt := &survey.Password{Message: message}
	if err := survey.AskOne(prompt, &result, survey.WithValidator(survey.Required)); err != nil {
		return "", err
	}
	return result, nil
}

var defaultPrompter prompter = surveyPrompter{}

func newRootCmd(p prompter) *cobra.Command {
	root := &cobra.Command{
		Use:   "credentials",
		Short: "Encode the secret and cookie jar used by the audio download service",
		Long: `credentials encodes the values the service and its clients exchange:

  - the base64 form of SECRET that clients send as the "secret" query parameter
  - the YT_COOKIE_BASE64 value built from a Netscape cookies.txt export

Example:
  credentials encode-cookies ~/Downloads/cookies.txt`,
		SilenceUsage: true,
	}
	root.AddCommand(newEncodeSecretCmd(p), newEncodeCookiesCmd())
	return root
}
