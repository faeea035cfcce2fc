package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/notekeeper/internal/auth"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はアウトボックスワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandKeygen はトークン署名用のRSA鍵ペアを生成する。
	CommandKeygen Command = "keygen"
)

// NewRootCommand はnotekeeperのコマンドツリーを組み立てる。
// サブコマンドが省略された場合はserveとして動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "notekeeper",
		Short:         "利用者アカウントとメモを管理するAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, w)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newServeCommand(w),
		newWorkerCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
		newKeygenCommand(w),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, w)
		},
	}
}

func serve(cmd *cobra.Command, w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return err
	}
	logStartup(CommandServe, cfg)
	return runServe(cmd.Context(), cfg)
}

func newWorkerCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "アウトボックスの再送・削除ジョブを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			logStartup(CommandWorker, cfg)
			return runWorker(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var (
		down        int
		showVersion bool
	)
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "データベースマイグレーションを実行する",
		Long: `未適用のマイグレーションを順番に適用する。
--downを指定した場合は指定数だけロールバックし、--versionを指定した場合は現在のバージョンを表示する。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			switch {
			case showVersion:
				return runMigrateVersion(cmd.OutOrStdout(), cfg)
			case down > 0:
				return runMigrateDown(cfg, down)
			default:
				return runMigrate(cfg)
			}
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "ロールバックするマイグレーション数")
	cmd.Flags().BoolVar(&showVersion, "version", false, "現在のマイグレーションバージョンを表示する")
	cmd.MarkFlagsMutuallyExclusive("down", "version")
	return cmd
}

func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "稼働中のAPIサーバーの/healthを確認する",
		Args:  cobra.NoArgs,
		// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}
	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	cmd.Flags().StringVar(&port, "port", defaultPort, "APIサーバーのポート")
	return cmd
}

func newKeygenCommand(w io.Writer) *cobra.Command {
	var (
		dir   string
		bits  int
		force bool
	)
	cmd := &cobra.Command{
		Use:   string(CommandKeygen),
		Short: "トークン署名用のRSA鍵ペアをPEMファイルとして書き出す",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(w, dir, bits, force)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "出力先ディレクトリ")
	cmd.Flags().IntVar(&bits, "bits", auth.DefaultKeyBits, "RSA鍵長")
	cmd.Flags().BoolVar(&force, "force", false, "既存のファイルを上書きする")
	return cmd
}
