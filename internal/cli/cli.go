package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ipsentry/internal/commands"
	"ipsentry/internal/output"
	"ipsentry/internal/version"
	"ipsentry/internal/webconfig"
)

func Run(args []string) int {
	cfg, err := webconfig.Load()
	if err != nil {
		output.Printf("警告: 读取 ipsentry 配置失败: %s\n", err)
		cfg = webconfig.Default()
	}
	output.SetDebug(cfg.IsDebug())
	output.Debugf("已加载配置: %s mode=%s\n", webconfig.ConfigPath(), cfg.Log.Mode)

	if len(args) < 2 {
		return commands.RunServe(nil)
	}

	switch args[1] {
	case "-h", "--help", "help":
		output.Println(usage())
		return 0
	case "-v", "--version", "version":
		output.Printf("ipsentry %s (build %s)\n", version.Version, version.Build)
		return 0
	case "reset-password":
		return commands.ResetPassword(args[2:])
	default:
		// 所有其他参数传递给 serve
		return commands.RunServe(args[1:])
	}
}

func usage() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "IPSentry (ipsentry) - 安全事件日志与访问控制后台")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "用法:")
	fmt.Fprintln(b, "  ipsentry [参数]                启动 Web 后台")
	fmt.Fprintln(b, "  ipsentry <命令> [参数]")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "参数:")
	fmt.Fprintln(b, "  -p, --port PORT       指定监听端口")
	fmt.Fprintln(b, "  -b, --bind ADDR       指定绑定地址 (默认 0.0.0.0)")
	fmt.Fprintln(b, "  -u, --user USER       初始管理员用户名")
	fmt.Fprintln(b, "      --password PASS   初始管理员密码 (需配合 --user)")
	fmt.Fprintln(b, "      --debug           启用调试模式")
	fmt.Fprintln(b, "  -h, --help            显示帮助")
	fmt.Fprintln(b, "  -v, --version         显示版本")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "辅助命令:")
	fmt.Fprintln(b, "  reset-password   重置用户密码")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "示例:")
	fmt.Fprintln(b, "  ipsentry                              # 启动 Web 后台")
	fmt.Fprintln(b, "  ipsentry -p 18812 -b 127.0.0.1        # 指定端口和绑定地址")
	fmt.Fprintln(b, "  ipsentry -u admin --password secret1  # 启动并创建初始用户")
	fmt.Fprintln(b, "  ipsentry reset-password admin secret2 # 重置密码")
	return b.String()
}

var ErrInvalidArgs = errors.New("参数无效")

func PrintError(err error) {
	if err == nil {
		return
	}
	output.Printf("错误: %s\n", err)
	os.Exit(1)
}
