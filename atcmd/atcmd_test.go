package atcmd

import (
	"testing"

	"github.com/nexmodem/qcore/corerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhoneNumberAcceptsLeadingPlus(t *testing.T) {
	assert.NoError(t, ValidatePhoneNumber("+15551234567"))
	assert.NoError(t, ValidatePhoneNumber("5551234567"))
}

func TestValidatePhoneNumberRejectsNonDigits(t *testing.T) {
	err := ValidatePhoneNumber("+1555-1234")
	require.Error(t, err)
	assert.Equal(t, corerr.KindInvalidPhoneNumber, corerr.KindOf(err))
}

func TestValidateUSSDAcceptsStarHash(t *testing.T) {
	assert.NoError(t, ValidateUSSD("*123#"))
}

func TestValidateUSSDRejectsLetters(t *testing.T) {
	err := ValidateUSSD("*123A#")
	require.Error(t, err)
	assert.Equal(t, corerr.KindInvalidUssd, corerr.KindOf(err))
}

func TestDialPreamblesInOrder(t *testing.T) {
	cmds, err := Dial("+15551234567", "1", true)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, "AT+CLIR=1", cmds[0].Name)
	assert.Equal(t, "AT+CHLD=2", cmds[1].Name)
	assert.Equal(t, "ATD+15551234567;", cmds[2].Name)
}

func TestDialRejectsInvalidNumber(t *testing.T) {
	_, err := Dial("abc", "", false)
	assert.Error(t, err)
}

func TestSMSSendExpectsPromptThenOK(t *testing.T) {
	cmds := SMSSend(12, "0011000B915155..")
	require.Len(t, cmds, 2)
	assert.Equal(t, "> ", cmds[0].Expect)
	assert.Equal(t, "OK", cmds[1].Expect)
	assert.Equal(t, byte(0x1a), cmds[1].Name[len(cmds[1].Name)-1])
}

func TestDeleteSMSOmitsFlagWhenZero(t *testing.T) {
	cmds := DeleteSMS(3, 0)
	assert.Equal(t, "AT+CMGD=3", cmds[0].Name)
}

func TestListSMSBuildsStatusFilter(t *testing.T) {
	cmds := ListSMS(4)
	require.Len(t, cmds, 1)
	assert.Equal(t, "AT+CMGL=4", cmds[0].Name)
	assert.Equal(t, "OK", cmds[0].Expect)
}
